package postgresstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/models"
)

// UsageStore persists counters in the usage_stats table, one row per app
// identity with separate numeric columns.
type UsageStore struct {
	db  *sqlx.DB
	log *logrus.Logger
}

type usageRow struct {
	AppID        string `db:"app_id"`
	InputTokens  int    `db:"input_tokens"`
	OutputTokens int    `db:"output_tokens"`
}

// NewUsageStore creates a Postgres-backed usage store.
func NewUsageStore(db *sqlx.DB, log *logrus.Logger) *UsageStore {
	return &UsageStore{db: db, log: log}
}

// Get returns the counters for appID, zeros when absent or unreadable.
func (s *UsageStore) Get(ctx context.Context, appID string) (models.TokenCount, error) {
	var row usageRow
	err := s.db.GetContext(ctx, &row,
		`SELECT app_id, input_tokens, output_tokens FROM usage_stats WHERE app_id = $1`, appID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.WithError(err).WithField("app_id", appID).Warn("usage read failed, treating as zero")
		}
		return models.TokenCount{}, nil
	}
	return models.TokenCount{InputTokens: row.InputTokens, OutputTokens: row.OutputTokens}, nil
}

// Put overwrites the counters for appID.
func (s *UsageStore) Put(ctx context.Context, appID string, tokens models.TokenCount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_stats (app_id, input_tokens, output_tokens, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (app_id) DO UPDATE
		SET input_tokens = EXCLUDED.input_tokens,
		    output_tokens = EXCLUDED.output_tokens,
		    updated_at = now()`,
		appID, tokens.InputTokens, tokens.OutputTokens)
	if err != nil {
		s.log.WithError(err).WithField("app_id", appID).Warn("usage save failed, dropping update")
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *UsageStore) Close() error {
	return s.db.Close()
}
