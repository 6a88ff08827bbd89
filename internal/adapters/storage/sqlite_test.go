package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func samplePosition(mint string, realized float64) *domain.Position {
	return &domain.Position{
		Mint:           mint,
		Symbol:         "TKN",
		SolSpent:       10,
		SolReceived:    12,
		TokensBought:   100,
		TokensSold:     80,
		CurrentBalance: 20,
		RealizedPnL:    realized,
		UnrealizedPnL:  0.5,
		Active:         true,
		TransferCount:  1,
		FirstTradeAt:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		LastTradeAt:    time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStore_PositionsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := map[string]*domain.Position{
		"mintA": samplePosition("mintA", 2.5),
		"mintB": samplePosition("mintB", -1.25),
	}
	require.NoError(t, store.SavePositions(ctx, "wallet", in))

	out, err := store.LoadPositions(ctx, "wallet")
	require.NoError(t, err)
	require.Len(t, out, 2)

	got := out["mintA"]
	require.NotNil(t, got)
	assert.Equal(t, "TKN", got.Symbol)
	assert.InDelta(t, 2.5, got.RealizedPnL, 1e-9)
	assert.InDelta(t, 20.0, got.CurrentBalance, 1e-9)
	assert.True(t, got.Active)
	assert.Equal(t, 1, got.TransferCount)

	// Another wallet sees nothing.
	other, err := store.LoadPositions(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_PositionUpsertOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pos := samplePosition("mintA", 1.0)
	require.NoError(t, store.SavePositions(ctx, "wallet", map[string]*domain.Position{"mintA": pos}))

	// A rerun of the same wallet overwrites, never duplicates.
	pos.RealizedPnL = 3.0
	pos.Active = false
	require.NoError(t, store.SavePositions(ctx, "wallet", map[string]*domain.Position{"mintA": pos}))

	out, err := store.LoadPositions(ctx, "wallet")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 3.0, out["mintA"].RealizedPnL, 1e-9)
	assert.False(t, out["mintA"].Active)
}

func TestSQLiteStore_EventUpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []domain.NormalizedEvent{
		{
			Signature: "sig1", Timestamp: time.Now().UTC(), Kind: domain.EventBuy,
			Mint: "mintA", TokenAmount: 10, SolAmount: 1,
		},
	}
	require.NoError(t, store.SaveEvents(ctx, "wallet", events))

	events[0].Symbol = "TKN" // resolved on the second run
	require.NoError(t, store.SaveEvents(ctx, "wallet", events))

	var count int
	var symbol string
	row := store.db.QueryRow(`SELECT COUNT(*) FROM events WHERE signature = 'sig1'`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
	row = store.db.QueryRow(`SELECT symbol FROM events WHERE signature = 'sig1'`)
	require.NoError(t, row.Scan(&symbol))
	assert.Equal(t, "TKN", symbol)
}

func TestSQLiteStore_DailyUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	daily := []domain.DailyPNL{{Date: "2024-03-01", RealizedSol: 1.5, EventCount: 3, TokenCount: 2}}
	require.NoError(t, store.SaveDailyPNL(ctx, "wallet", daily))

	daily[0].RealizedSol = 2.0
	require.NoError(t, store.SaveDailyPNL(ctx, "wallet", daily))

	var realized float64
	row := store.db.QueryRow(`SELECT realized_sol FROM daily_pnl WHERE wallet = 'wallet' AND date = '2024-03-01'`)
	require.NoError(t, row.Scan(&realized))
	assert.InDelta(t, 2.0, realized, 1e-9)
}

func TestSQLiteStore_RunStatusTracksLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRunStatus(ctx, "wallet", domain.RunRunning, ""))
	require.NoError(t, store.SaveRunStatus(ctx, "wallet", domain.RunFailed, "too_many_signatures"))

	var status, reason string
	row := store.db.QueryRow(`SELECT status, reason FROM runs WHERE wallet = 'wallet'`)
	require.NoError(t, row.Scan(&status, &reason))
	assert.Equal(t, "failed", status)
	assert.Equal(t, "too_many_signatures", reason)

	var count int
	row = store.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE wallet = 'wallet'`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_EmptySavesAreNoOps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, store.SaveEvents(ctx, "wallet", nil))
	assert.NoError(t, store.SavePositions(ctx, "wallet", nil))
	assert.NoError(t, store.SaveDailyPNL(ctx, "wallet", nil))
}
