package usage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DocumentKey is the key the totals are persisted under.
const DocumentKey = "tokenUsage"

// DocStore is the key-value document storage the Tracker needs.
// Implemented by storage.Store and storage.Memory.
type DocStore interface {
	GetDoc(ctx context.Context, key string, v any) (bool, error)
	PutDoc(ctx context.Context, key string, v any) error
}

// Totals is the cumulative token usage reported by the provider.
type Totals struct {
	TotalInputTokens  int64      `json:"totalInputTokens"`
	TotalOutputTokens int64      `json:"totalOutputTokens"`
	LastUpdated       *time.Time `json:"lastUpdated"`
}

// Snapshot is Totals plus the cost estimate for the configured model.
type Snapshot struct {
	Totals
	Model         string  `json:"model"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// Tracker accumulates token usage into the document store.
//
// Updates are read-modify-write on a single document. mu serializes them
// within this process; writers in other processes sharing the same store can
// still lose an update (last write wins).
type Tracker struct {
	store DocStore
	now   func() time.Time

	mu sync.Mutex
}

// NewTracker creates a Tracker backed by store.
func NewTracker(store DocStore) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Totals returns the current totals. A missing document reads as zero.
func (t *Tracker) Totals(ctx context.Context) (Totals, error) {
	var cur Totals
	if _, err := t.store.GetDoc(ctx, DocumentKey, &cur); err != nil {
		return Totals{}, fmt.Errorf("reading token usage: %w", err)
	}
	return cur, nil
}

// Accumulate adds one usage report to the totals. Negative counts are ignored.
func (t *Tracker) Accumulate(ctx context.Context, promptTokens, completionTokens int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, err := t.Totals(ctx)
	if err != nil {
		return err
	}
	if promptTokens > 0 {
		cur.TotalInputTokens += promptTokens
	}
	if completionTokens > 0 {
		cur.TotalOutputTokens += completionTokens
	}
	now := t.now().UTC()
	cur.LastUpdated = &now

	if err := t.store.PutDoc(ctx, DocumentKey, cur); err != nil {
		return fmt.Errorf("writing token usage: %w", err)
	}
	return nil
}

// Reset zeroes the totals.
func (t *Tracker) Reset(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.PutDoc(ctx, DocumentKey, Totals{}); err != nil {
		return fmt.Errorf("resetting token usage: %w", err)
	}
	return nil
}

// Snapshot returns the totals with the estimated cost for model.
func (t *Tracker) Snapshot(ctx context.Context, model string) (Snapshot, error) {
	cur, err := t.Totals(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Totals:        cur,
		Model:         model,
		EstimatedCost: EstimateCost(cur, model),
	}, nil
}
