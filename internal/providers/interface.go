package providers

import (
	"context"
	"errors"

	"github.com/larkbridge/larkbridge-backend/internal/models"
)

// ErrAuthorization is returned when the model backend rejects the configured
// credentials. The caller aborts the invocation and surfaces a generic
// failure to the chat; the detail stays in the logs.
var ErrAuthorization = errors.New("model backend rejected credentials")

// StreamFunc receives streaming progress. text is the full transcript so
// far, not a delta: each call supersedes the previous one, so downstream
// edits are idempotent full-text replacements. The final call has
// final=true and a non-empty endNote summarizing usage; no calls follow it.
type StreamFunc func(text, endNote string, final bool) error

// Streamer is the single capability every model backend implements. A
// Streamer is safe to reuse across invocations; configuration is fixed at
// construction and no per-invocation state is retained.
type Streamer interface {
	InvokeStream(ctx context.Context, messages []models.Message, systemPrompt string, onPartial StreamFunc) (*Result, error)
}

// Usage is one invocation's token accounting. Exact for the primary
// backend, backend-estimated for the workflow backend; the two are not
// comparable.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the aggregate outcome of one streaming invocation. It is
// consumed immediately by the chat service and never persisted.
type Result struct {
	Text      string
	Usage     Usage
	Citations []string
	SessionID string
}

// EstimateTokens is the coarse chars/4 fallback used where a backend
// reports no usage of its own.
func EstimateTokens(chars int) int {
	return (chars + 3) / 4
}
