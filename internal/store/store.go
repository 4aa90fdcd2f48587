// Package store defines the persistence boundaries. Implementations absorb
// read/write failures at this boundary (logged, treated as not-found / a
// no-op) so a flaky store degrades a conversation instead of crashing the
// invocation.
package store

import (
	"context"

	"github.com/larkbridge/larkbridge-backend/internal/models"
)

// ConversationStore persists per-chat history with a TTL that is reset on
// every save.
type ConversationStore interface {
	// Get returns nil when no record exists (or the read failed).
	Get(ctx context.Context, chatID string) (*models.ConversationRecord, error)
	// Save replaces the record wholesale and resets the expiry window.
	Save(ctx context.Context, chatID string, messages []models.Message, systemPrompt string) error
}

// UsageStore persists cumulative token counters per app identity.
type UsageStore interface {
	// Get returns zero counters when no row exists.
	Get(ctx context.Context, appID string) (models.TokenCount, error)
	// Put overwrites the counters. Read-modify-write is the caller's
	// responsibility; see usage.Ledger for the documented race.
	Put(ctx context.Context, appID string, tokens models.TokenCount) error
	Close() error
}

// EventStore is the webhook duplicate-delivery ledger. Records expire
// after the retention window.
type EventStore interface {
	// Seen reports whether the event ID was already recorded.
	Seen(ctx context.Context, eventID string) bool
	// Save records the event header. Check and save are two operations,
	// not a transaction; a narrow double-delivery window remains.
	Save(ctx context.Context, eventID string, header []byte) error
}
