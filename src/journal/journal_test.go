package journal_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-core/src/engine"
	"trade-core/src/journal"
	"trade-core/src/snapshot"
)

func fill(symbol string, seq uint64) engine.Fill {
	return engine.Fill{
		ID:             fmt.Sprintf("%s-%d", symbol, seq),
		Sequence:       seq,
		Symbol:         symbol,
		MakerOrderID:   "maker",
		TakerOrderID:   "taker",
		MakerAccountID: "mm",
		TakerAccountID: "alice",
		TakerSide:      engine.Sell,
		Price:          decimal.RequireFromString("99.995"),
		Quantity:       int64(seq),
		Timestamp:      int64(seq) * 1000,
	}
}

func TestPersistAndRead(t *testing.T) {
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	batch := snapshot.Batch{Symbol: "AAPL", Fills: []engine.Fill{fill("AAPL", 1), fill("AAPL", 2)}}
	require.NoError(t, j.Persist(context.Background(), batch))

	got, ok, err := j.Get("AAPL", 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AAPL-2", got.ID)
	assert.Equal(t, engine.Sell, got.TakerSide)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("99.995")))

	_, ok, err = j.Get("AAPL", 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecentReturnsLatestInOrder(t *testing.T) {
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	for seq := uint64(1); seq <= 12; seq++ {
		require.NoError(t, j.Append(fill("AAPL", seq)))
	}
	// a symbol sharing the prefix must not leak in
	require.NoError(t, j.Append(fill("AAPLX", 99)))

	recent, err := j.Recent("AAPL", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, []uint64{10, 11, 12}, []uint64{recent[0].Sequence, recent[1].Sequence, recent[2].Sequence})

	var count int
	require.NoError(t, j.Scan("AAPL", func(engine.Fill) error { count++; return nil }))
	assert.Equal(t, 12, count)
}

func TestReopenKeepsFills(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(fill("MSFT", 7)))
	require.NoError(t, j.Close())

	j, err = journal.Open(dir)
	require.NoError(t, err)
	defer j.Close()

	recent, err := j.Recent("MSFT", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "MSFT-7", recent[0].ID)
}

func TestReopenContinuesAfterRestartedBook(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(dir)
	require.NoError(t, err)

	first := fill("AAPL", 1)
	first.ID = "run-1"
	require.NoError(t, j.Append(first))
	require.NoError(t, j.Close())

	// a fresh book numbers its fills from 1 again
	j, err = journal.Open(dir)
	require.NoError(t, err)
	defer j.Close()

	second := fill("AAPL", 1)
	second.ID = "run-2"
	require.NoError(t, j.Persist(context.Background(), snapshot.Batch{Symbol: "AAPL", Fills: []engine.Fill{second}}))

	var ids []string
	require.NoError(t, j.Scan("AAPL", func(f engine.Fill) error {
		ids = append(ids, f.ID)
		return nil
	}))
	assert.Equal(t, []string{"run-1", "run-2"}, ids)

	got, ok, err := j.Get("AAPL", 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-2", got.ID)
}

func TestAppendRejectsNestedSymbol(t *testing.T) {
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	require.Error(t, j.Append(fill("A/B", 1)))

	recent, err := j.Recent("A", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
