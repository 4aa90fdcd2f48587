package usage

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/store/badgerstore"
)

func testStore(t *testing.T) *badgerstore.UsageStore {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return badgerstore.NewUsageStore(db, log)
}

func TestLedgerAccumulates(t *testing.T) {
	ledger := NewLedger(testStore(t))
	ctx := context.Background()

	require.NoError(t, ledger.Add(ctx, "app", 10, 20))
	require.NoError(t, ledger.Add(ctx, "app", 5, 5))

	tokens, err := ledger.Get(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, models.TokenCount{InputTokens: 15, OutputTokens: 25}, tokens)
}

func TestLedgerZeroWhenAbsent(t *testing.T) {
	ledger := NewLedger(testStore(t))

	tokens, err := ledger.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, models.TokenCount{}, tokens)
}

func TestLedgerPerAppIsolation(t *testing.T) {
	ledger := NewLedger(testStore(t))
	ctx := context.Background()

	require.NoError(t, ledger.Add(ctx, "app-a", 1, 2))
	require.NoError(t, ledger.Add(ctx, "app-b", 100, 200))

	a, err := ledger.Get(ctx, "app-a")
	require.NoError(t, err)
	assert.Equal(t, models.TokenCount{InputTokens: 1, OutputTokens: 2}, a)

	b, err := ledger.Get(ctx, "app-b")
	require.NoError(t, err)
	assert.Equal(t, models.TokenCount{InputTokens: 100, OutputTokens: 200}, b)
}
