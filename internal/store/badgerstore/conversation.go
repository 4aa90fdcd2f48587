package badgerstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/models"
)

const convPrefix = "conv:"

// ConversationStore persists chat history rows keyed by chat ID, expiring
// via entry TTL.
type ConversationStore struct {
	db  *badger.DB
	ttl time.Duration
	log *logrus.Logger
}

type conversationRow struct {
	Messages     []models.Message `json:"messages"`
	SystemPrompt string           `json:"system_prompt"`
}

// NewConversationStore creates a conversation store with the given expiry
// window.
func NewConversationStore(db *badger.DB, ttl time.Duration, log *logrus.Logger) *ConversationStore {
	return &ConversationStore{db: db, ttl: ttl, log: log}
}

// Get loads the record for chatID, nil when absent or unreadable.
func (s *ConversationStore) Get(ctx context.Context, chatID string) (*models.ConversationRecord, error) {
	val := get(s.db, []byte(convPrefix+chatID), s.log)
	if val == nil {
		return nil, nil
	}

	var row conversationRow
	if err := json.Unmarshal(val, &row); err != nil {
		s.log.WithError(err).WithField("chat_id", chatID).Warn("corrupt conversation row, treating as not found")
		return nil, nil
	}
	return &models.ConversationRecord{
		ChatID:       chatID,
		Messages:     row.Messages,
		SystemPrompt: row.SystemPrompt,
	}, nil
}

// Save replaces the record and resets its TTL.
func (s *ConversationStore) Save(ctx context.Context, chatID string, messages []models.Message, systemPrompt string) error {
	val, err := json.Marshal(conversationRow{Messages: messages, SystemPrompt: systemPrompt})
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(convPrefix+chatID), val).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		s.log.WithError(err).WithField("chat_id", chatID).Warn("conversation save failed, dropping update")
	}
	return nil
}
