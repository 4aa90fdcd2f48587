package badgerstore

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const eventPrefix = "event:"

// EventStore is the duplicate-delivery ledger: event IDs with the original
// header, expiring after the retention window.
type EventStore struct {
	db        *badger.DB
	retention time.Duration
	log       *logrus.Logger
}

// NewEventStore creates an event ledger with the given retention window
// (the webhook contract assumes ~24h).
func NewEventStore(db *badger.DB, retention time.Duration, log *logrus.Logger) *EventStore {
	return &EventStore{db: db, retention: retention, log: log}
}

// Seen reports whether eventID was already recorded. Read failures count
// as unseen; a duplicate model invocation beats a dropped message.
func (s *EventStore) Seen(ctx context.Context, eventID string) bool {
	return get(s.db, []byte(eventPrefix+eventID), s.log) != nil
}

// Save records the event header with the retention TTL.
func (s *EventStore) Save(ctx context.Context, eventID string, header []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(eventPrefix+eventID), header).WithTTL(s.retention)
		return txn.SetEntry(entry)
	})
	if err != nil {
		s.log.WithError(err).WithField("event_id", eventID).Warn("event save failed, dedupe window weakened")
	}
	return nil
}
