package usage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/tweetbot/internal/storage"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker(storage.NewMemory())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }
	return tr
}

func TestTotals_EmptyStore(t *testing.T) {
	tr := newTestTracker(t)

	got, err := tr.Totals(context.Background())
	require.NoError(t, err)
	require.Zero(t, got.TotalInputTokens)
	require.Zero(t, got.TotalOutputTokens)
	require.Nil(t, got.LastUpdated)
}

func TestAccumulate_Additive(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Accumulate(ctx, 100, 50))
	require.NoError(t, tr.Accumulate(ctx, 10, 5))

	got, err := tr.Totals(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 110, got.TotalInputTokens)
	require.EqualValues(t, 55, got.TotalOutputTokens)
	require.NotNil(t, got.LastUpdated)
	require.Equal(t, 2026, got.LastUpdated.Year())
}

func TestAccumulate_ThenReset(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Accumulate(ctx, 100, 50))
	require.NoError(t, tr.Accumulate(ctx, 10, 5))
	require.NoError(t, tr.Reset(ctx))

	got, err := tr.Totals(ctx)
	require.NoError(t, err)
	require.Zero(t, got.TotalInputTokens)
	require.Zero(t, got.TotalOutputTokens)
	require.Nil(t, got.LastUpdated)
}

func TestAccumulate_IgnoresNegative(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Accumulate(ctx, 10, 10))
	require.NoError(t, tr.Accumulate(ctx, -5, -5))

	got, err := tr.Totals(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 10, got.TotalInputTokens)
	require.EqualValues(t, 10, got.TotalOutputTokens)
}

func TestAccumulate_PersistsInSQLite(t *testing.T) {
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, NewTracker(s).Accumulate(ctx, 7, 3))

	got, err := NewTracker(s).Totals(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, got.TotalInputTokens)
	require.EqualValues(t, 3, got.TotalOutputTokens)
}

func TestEstimateCost(t *testing.T) {
	totals := Totals{TotalInputTokens: 1_000_000, TotalOutputTokens: 1_000_000}

	tests := []struct {
		model string
		want  float64
	}{
		{"anthropic/claude-haiku-4-5", 4.80},
		{"anthropic/claude-sonnet-4-5", 18},
		{"anthropic/claude-opus-4-6", 90},
		{"someone/unknown-model", 4.80},
		{"", 4.80},
	}
	for _, tt := range tests {
		got := EstimateCost(totals, tt.model)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EstimateCost(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Accumulate(ctx, 500_000, 250_000))
	snap, err := tr.Snapshot(ctx, "anthropic/claude-sonnet-4-5")
	require.NoError(t, err)
	require.Equal(t, "anthropic/claude-sonnet-4-5", snap.Model)
	require.InDelta(t, 1.5+3.75, snap.EstimatedCost, 1e-9)
}
