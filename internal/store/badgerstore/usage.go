package badgerstore

import (
	"context"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/models"
)

const usagePrefix = "usage:"

// UsageStore persists cumulative token counters as a single JSON row per
// app identity.
type UsageStore struct {
	db  *badger.DB
	log *logrus.Logger
}

// NewUsageStore creates a Badger-backed usage store.
func NewUsageStore(db *badger.DB, log *logrus.Logger) *UsageStore {
	return &UsageStore{db: db, log: log}
}

// Get returns the counters for appID, zeros when absent.
func (s *UsageStore) Get(ctx context.Context, appID string) (models.TokenCount, error) {
	var tokens models.TokenCount
	val := get(s.db, []byte(usagePrefix+appID), s.log)
	if val == nil {
		return tokens, nil
	}
	if err := json.Unmarshal(val, &tokens); err != nil {
		s.log.WithError(err).WithField("app_id", appID).Warn("corrupt usage row, treating as zero")
		return models.TokenCount{}, nil
	}
	return tokens, nil
}

// Put overwrites the counters for appID.
func (s *UsageStore) Put(ctx context.Context, appID string, tokens models.TokenCount) error {
	val, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(usagePrefix+appID), val)
	})
	if err != nil {
		s.log.WithError(err).WithField("app_id", appID).Warn("usage save failed, dropping update")
	}
	return nil
}

// Close is a no-op; the shared Badger handle is closed by its owner.
func (s *UsageStore) Close() error { return nil }
