package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	pairs, err := ParsePairs(" 13_218, 5:202,5/202,,45_220")
	require.NoError(t, err)
	assert.Equal(t, []Pair{{13, 218}, {5, 202}, {45, 220}}, pairs)

	SortPairs(pairs)
	assert.Equal(t, "5_202", pairs[0].String())

	_, err = ParsePairs("5_202,abc")
	assert.Error(t, err)
}

func TestPairValidate(t *testing.T) {
	assert.NoError(t, Pair{Fast: 1, Slow: 2}.Validate())
	assert.ErrorIs(t, Pair{Fast: 0, Slow: 2}.Validate(), ErrInvalidPair)
	assert.ErrorIs(t, Pair{Fast: 20, Slow: 20}.Validate(), ErrInvalidPair)
}

func TestSummarizeFills(t *testing.T) {
	avg, comm, asset := SummarizeFills([]Fill{
		{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(3), Commission: decimal.RequireFromString("0.003"), CommissionAsset: "ETH"},
		{Price: decimal.NewFromInt(110), Qty: decimal.NewFromInt(1), Commission: decimal.RequireFromString("0.001"), CommissionAsset: "ETH"},
	})
	// mean of fill prices, not volume weighted
	assert.True(t, avg.Equal(decimal.NewFromInt(105)))
	assert.True(t, comm.Equal(decimal.RequireFromString("0.004")))
	assert.Equal(t, "ETH", asset)

	avg, comm, asset = SummarizeFills(nil)
	assert.True(t, avg.IsZero())
	assert.True(t, comm.IsZero())
	assert.Empty(t, asset)
}

func TestLastClose(t *testing.T) {
	assert.True(t, LastClose(nil).IsZero())
	k := []KLine{{Close: decimal.NewFromInt(1)}, {Close: decimal.NewFromInt(2)}}
	assert.True(t, LastClose(k).Equal(decimal.NewFromInt(2)))
	assert.Equal(t, []float64{1, 2}, Closes(k))
}
