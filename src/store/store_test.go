package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade-core/src/engine"
	"trade-core/src/pnl"
	"trade-core/src/position"
	"trade-core/src/snapshot"
	"trade-core/src/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func batch(cost string, realized string) snapshot.Batch {
	now := time.Now().UTC()
	return snapshot.Batch{
		Symbol: "AAPL",
		Reason: snapshot.ReasonOrder,
		Fills: []engine.Fill{{
			ID: "fill-1", Sequence: 1, Symbol: "AAPL",
			MakerOrderID: "m", TakerOrderID: "t", MakerAccountID: "mm", TakerAccountID: "alice",
			TakerSide: engine.Buy, Price: decimal.RequireFromString("150.25"), Quantity: 10, Timestamp: now.UnixNano(),
		}},
		Positions: []position.Position{{
			AccountID: "alice", Symbol: "AAPL", NetQuantity: 10,
			AverageCost: decimal.RequireFromString(cost), UpdatedAt: now,
		}},
		PnL: []pnl.Record{{
			AccountID: "alice", Symbol: "AAPL",
			RealizedPnL: decimal.RequireFromString(realized), UpdatedAt: now,
		}},
		CreatedAt: now,
	}
}

func TestPersistWritesSnapshot(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, batch("150.25", "0")))

	pos, ok, err := s.GetPosition(ctx, "alice", "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), pos.NetQuantity)
	assert.True(t, pos.AverageCost.Equal(decimal.RequireFromString("150.25")))

	n, err := s.CountFills(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPersistUpsertsLatestState(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, batch("150.25", "0")))
	// same fill redelivered together with newer state
	require.NoError(t, s.Persist(ctx, batch("151.1234567890123456", "12.5")))

	pos, _, err := s.GetPosition(ctx, "alice", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "151.1234567890123456", pos.AverageCost.String())

	rec, ok, err := s.GetPnL(ctx, "alice", "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec.RealizedPnL.Equal(decimal.RequireFromString("12.5")))

	n, err := s.CountFills(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMissingRowsReportNotFound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.GetPosition(ctx, "nobody", "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.GetPnL(ctx, "nobody", "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}
