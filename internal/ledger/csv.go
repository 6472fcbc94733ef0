package ledger

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Tom-Standen/MomentumTrading/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const journalName = "commit.journal"

var header = []string{
	"entry_id", "time", "base_held", "quote_held",
	"avg_price", "trigger_price", "commission", "commission_asset",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// CSVStore keeps one portfolio_<fast>_<slow>.csv file per pair under dir.
type CSVStore struct {
	dir     string
	aliases map[string]string
	mu      sync.Mutex
}

// NewCSVStore creates the directory if needed. baseAsset and quoteAsset let legacy
// files with "<asset>_held" columns (eth_held, usdt_held) be read.
func NewCSVStore(dir, baseAsset, quoteAsset string) (*CSVStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	aliases := map[string]string{
		"order_id":   "entry_id",
		"av_price":   "avg_price",
		"comm":       "commission",
		"comm_asset": "commission_asset",
	}
	if baseAsset != "" {
		aliases[strings.ToLower(baseAsset)+"_held"] = "base_held"
	}
	if quoteAsset != "" {
		aliases[strings.ToLower(quoteAsset)+"_held"] = "quote_held"
	}
	s := &CSVStore{dir: dir, aliases: aliases}
	if err := s.recoverLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVStore) path(pair model.Pair) string {
	return filepath.Join(s.dir, "portfolio_"+pair.String()+".csv")
}

func (s *CSVStore) Load(_ context.Context, pair model.Pair) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recoverLocked(); err != nil {
		return nil, err
	}
	return s.read(pair)
}

func (s *CSVStore) Append(ctx context.Context, pair model.Pair, entry model.LedgerEntry) error {
	return s.AppendAll(ctx, map[model.Pair]model.LedgerEntry{pair: entry})
}

// AppendAll stages every affected file next to its target, records the staged
// set in a commit journal and then renames each file into place. Once the
// journal is on disk the batch is decided: a commit interrupted after that
// point is completed by the next Load or NewCSVStore.
func (s *CSVStore) AppendAll(_ context.Context, rows map[model.Pair]model.LedgerEntry) error {
	if err := validateRows(rows); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recoverLocked(); err != nil {
		return err
	}

	var files []stagedFile
	abort := func(err error) error {
		for _, f := range files {
			err = multierr.Append(err, removeIfExists(filepath.Join(s.dir, f.Tmp)))
		}
		return err
	}

	for pair, entry := range rows {
		entries, err := s.read(pair)
		if err != nil {
			return abort(err)
		}
		if err := checkDuplicate(entries, entry); err != nil {
			return abort(fmt.Errorf("pair %s: %w", pair, err))
		}
		entries = append(entries, entry)

		target := s.path(pair)
		tmp, err := s.writeTemp(target, entries)
		if err != nil {
			return abort(fmt.Errorf("stage ledger %s: %w", pair, err))
		}
		files = append(files, stagedFile{Tmp: filepath.Base(tmp), Target: filepath.Base(target)})
	}

	if err := s.writeJournal(files); err != nil {
		return abort(fmt.Errorf("write commit journal: %w", err))
	}
	if err := s.apply(files); err != nil {
		return fmt.Errorf("commit ledger, journal kept for recovery: %w", err)
	}
	return os.Remove(filepath.Join(s.dir, journalName))
}

// stagedFile is one journal record, both names relative to the ledger dir.
type stagedFile struct {
	Tmp    string `json:"tmp"`
	Target string `json:"target"`
}

func (s *CSVStore) writeJournal(files []stagedFile) error {
	data, err := json.Marshal(files)
	if err != nil {
		return err
	}
	next := filepath.Join(s.dir, journalName+".new")
	f, err := os.Create(next)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	serr := f.Sync()
	cerr := f.Close()
	if err := multierr.Combine(werr, serr, cerr); err != nil {
		return multierr.Append(err, removeIfExists(next))
	}
	return os.Rename(next, filepath.Join(s.dir, journalName))
}

// apply renames every staged file still present over its target. Files already
// moved by an earlier, interrupted apply are skipped.
func (s *CSVStore) apply(files []stagedFile) error {
	var errs error
	for _, f := range files {
		tmp := filepath.Join(s.dir, f.Tmp)
		if _, err := os.Stat(tmp); errors.Is(err, os.ErrNotExist) {
			continue
		}
		errs = multierr.Append(errs, os.Rename(tmp, filepath.Join(s.dir, f.Target)))
	}
	return errs
}

// recoverLocked finishes a journaled commit, restores ledgers left only as
// *.csv.bak and removes staged files no journal refers to. s.mu must be held.
func (s *CSVStore) recoverLocked() error {
	journal := filepath.Join(s.dir, journalName)
	data, err := os.ReadFile(journal)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read commit journal: %w", err)
	default:
		var files []stagedFile
		if err := json.Unmarshal(data, &files); err != nil {
			return fmt.Errorf("decode commit journal: %w", err)
		}
		if err := s.apply(files); err != nil {
			return fmt.Errorf("replay commit journal: %w", err)
		}
		if err := os.Remove(journal); err != nil {
			return fmt.Errorf("remove commit journal: %w", err)
		}
	}

	backups, err := filepath.Glob(filepath.Join(s.dir, "portfolio_*.csv.bak"))
	if err != nil {
		return err
	}
	var errs error
	for _, bak := range backups {
		target := strings.TrimSuffix(bak, ".bak")
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, os.Rename(bak, target))
		} else {
			errs = multierr.Append(errs, removeIfExists(bak))
		}
	}

	stale, err := filepath.Glob(filepath.Join(s.dir, "portfolio_*.csv.*.tmp"))
	if err != nil {
		return multierr.Append(errs, err)
	}
	for _, tmp := range stale {
		errs = multierr.Append(errs, removeIfExists(tmp))
	}
	if errs != nil {
		return fmt.Errorf("recover ledger dir: %w", errs)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *CSVStore) writeTemp(target string, entries []model.LedgerEntry) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	for _, e := range entries {
		if err := w.Write(encodeRow(e)); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func (s *CSVStore) read(pair model.Pair) ([]model.LedgerEntry, error) {
	f, err := os.Open(s.path(pair))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", pair, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	head, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header %s: %w", pair, err)
	}
	cols := make(map[string]int, len(head))
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(name))
		if alias, ok := s.aliases[name]; ok {
			name = alias
		}
		cols[name] = i
	}
	for _, name := range header {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("ledger %s: missing column %q", pair, name)
		}
	}

	var entries []model.LedgerEntry
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger %s line %d: %w", pair, line, err)
		}
		e, err := decodeRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("ledger %s line %d: %w", pair, line, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func encodeRow(e model.LedgerEntry) []string {
	return []string{
		strconv.FormatInt(e.EntryID, 10),
		e.Time.UTC().Format(time.RFC3339Nano),
		e.Base.String(),
		e.Quote.String(),
		e.AvgPrice.String(),
		e.TriggerPrice.String(),
		e.Commission.String(),
		e.CommissionAsset,
	}
}

func decodeRow(rec []string, cols map[string]int) (model.LedgerEntry, error) {
	field := func(name string) string {
		i := cols[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var e model.LedgerEntry
	var err error
	if e.EntryID, err = strconv.ParseInt(field("entry_id"), 10, 64); err != nil {
		return e, fmt.Errorf("entry_id: %w", err)
	}
	if e.Time, err = parseTime(field("time")); err != nil {
		return e, err
	}
	for _, d := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"base_held", &e.Base},
		{"quote_held", &e.Quote},
		{"avg_price", &e.AvgPrice},
		{"trigger_price", &e.TriggerPrice},
		{"commission", &e.Commission},
	} {
		if *d.dst, err = parseDecimal(field(d.name)); err != nil {
			return e, fmt.Errorf("%s: %w", d.name, err)
		}
	}
	e.CommissionAsset = field("commission_asset")
	if strings.EqualFold(e.CommissionAsset, "nan") {
		e.CommissionAsset = ""
	}
	return e, nil
}

// parseDecimal treats empty and NaN cells as zero.
func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("time: unrecognised format %q", s)
}

func checkDuplicate(entries []model.LedgerEntry, entry model.LedgerEntry) error {
	for _, e := range entries {
		if e.EntryID == entry.EntryID {
			return fmt.Errorf("%w: entry %d", ErrDuplicateEntry, entry.EntryID)
		}
	}
	return nil
}
