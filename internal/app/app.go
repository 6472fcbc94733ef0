package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tom-Standen/MomentumTrading/api"
	"github.com/Tom-Standen/MomentumTrading/internal/config"
	"github.com/Tom-Standen/MomentumTrading/internal/connector"
	"github.com/Tom-Standen/MomentumTrading/internal/engine"
	"github.com/Tom-Standen/MomentumTrading/internal/infrastructure"
	"github.com/Tom-Standen/MomentumTrading/internal/ledger"
	"github.com/Tom-Standen/MomentumTrading/internal/model"
	"github.com/Tom-Standen/MomentumTrading/internal/push"
	"github.com/Tom-Standen/MomentumTrading/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PriceFeed returns recent closed candles, oldest first.
type PriceFeed interface {
	Klines(ctx context.Context, symbol, interval string, bars int) ([]model.KLine, error)
}

// Venue executes orders and can check it is reachable.
type Venue interface {
	engine.Venue
	Ping(ctx context.Context) error
}

// App defines the application structure and its dependencies
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	Store       ledger.Store
	Feed        PriceFeed
	Venue       Venue
	Events      engine.EventPublisher
	DB          *pgxpool.Pool
	NC          *nats.Conn
	JS          nats.JetStreamContext
	PushGateway *push.PushGateway
	HTTPServer  *http.Server
}

// NewApp loads configuration from configPath (app.env plus environment) and builds the logger.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &App{
		Config: &cfg,
		Logger: logger,
	}, nil
}

// Init builds the ledger store and the venue. Neither touches the exchange.
func (a *App) Init(ctx context.Context) error {
	// 1. Ledger
	switch a.Config.LedgerBackend {
	case "postgres":
		dbPool, err := pgxpool.Connect(ctx, a.Config.DB_DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = dbPool
		if err := a.initDatabase(); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Store = ledger.NewPostgresStore(dbPool)
	default:
		store, err := ledger.NewCSVStore(a.Config.LedgerDir, a.Config.BaseAsset, a.Config.QuoteAsset)
		if err != nil {
			return fmt.Errorf("failed to open ledger dir: %w", err)
		}
		a.Store = store
	}

	// 2. Exchange
	binance := connector.NewBinanceClient(connector.BinanceConfig{
		BaseURL:    a.Config.BinanceAPIBase,
		APIKey:     a.Config.BinanceAPIKey,
		APISecret:  a.Config.BinanceAPISecret,
		RecvWindow: a.Config.RecvWindow(),
	}, a.Logger)
	a.Feed = binance
	if a.Config.Venue == "paper" {
		a.Venue = connector.NewPaperVenue(a.Config.BaseAsset, a.Config.QuoteAsset, a.Config.FeeRate())
	} else {
		a.Venue = binance
	}

	// 3. NATS (optional)
	if a.Config.NatsURL != "" {
		nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
		if err != nil {
			a.Logger.Warn("NATS unavailable, events disabled", zap.Error(err))
		} else {
			a.NC = nc
			a.JS = js
			a.Events = infrastructure.NewEventPublisher(js, a.Logger)
			a.PushGateway = push.NewPushGateway(js, a.Logger)
		}
	}

	return nil
}

// initDatabase applies the embedded goose migrations through a database/sql handle.
func (a *App) initDatabase() error {
	db := stdlib.OpenDB(*a.DB.Config().ConnConfig)
	defer db.Close()
	if err := ledger.Migrate(db); err != nil {
		return err
	}
	a.Logger.Info("database initialized successfully")
	return nil
}

// OpenSQL opens a database/sql handle for the migrate command.
func OpenSQL(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// Close releases connections opened by Init.
func (a *App) Close() {
	if a.NC != nil {
		a.NC.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Logger.Sync()
}

// Serve runs the status API until SIGINT or SIGTERM.
func (a *App) Serve() error {
	pairs, err := a.Config.Pairs()
	if err != nil {
		return err
	}
	detector, err := strategy.NewDetector(pairs)
	if err != nil {
		return err
	}

	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(detector),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown()
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	a.Close()
	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter(detector *strategy.Detector) *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	apiHandler := api.NewHandler(a.Store, a.Feed, detector, api.Market{
		Symbol:   a.Config.Symbol,
		Interval: a.Config.Interval,
		Bars:     a.Config.Bars(detector.Pairs()),
	}, a.Logger)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/pairs", apiHandler.GetPairs)
		v1.GET("/ledgers/:pair", apiHandler.GetLedger)
		v1.GET("/signals", apiHandler.GetSignals)
	}

	r.GET("/ws", func(c *gin.Context) {
		if a.PushGateway == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
			return
		}
		a.PushGateway.ServeHTTP(c.Writer, c.Request)
	})

	return r
}
