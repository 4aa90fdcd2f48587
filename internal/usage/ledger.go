// Package usage tracks cumulative token consumption per app identity.
package usage

import (
	"context"

	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/store"
)

// Ledger accumulates input/output token counts across invocations.
//
// Add is read-then-write, not compare-and-swap: concurrent invocations for
// the same app identity can lose an update. Acceptable under the assumed
// low per-identity concurrency; documented, not guarded.
type Ledger struct {
	store store.UsageStore
}

// NewLedger creates a ledger over the given usage store.
func NewLedger(s store.UsageStore) *Ledger {
	return &Ledger{store: s}
}

// Get returns the counters for appID, zeros when absent.
func (l *Ledger) Get(ctx context.Context, appID string) (models.TokenCount, error) {
	return l.store.Get(ctx, appID)
}

// Add applies one invocation's usage delta to the counters.
func (l *Ledger) Add(ctx context.Context, appID string, inputDelta, outputDelta int) error {
	current, err := l.store.Get(ctx, appID)
	if err != nil {
		return err
	}
	return l.store.Put(ctx, appID, current.Add(inputDelta, outputDelta))
}
