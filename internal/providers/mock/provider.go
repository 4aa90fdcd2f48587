package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
)

// Provider is a deterministic streamer for tests and local runs: the canned
// response is split on whitespace and replayed as a growing transcript,
// with the callback fired on every 3rd word and on the last.
type Provider struct {
	delay    time.Duration
	response string
}

// New creates a mock streamer with the given per-word delay and canned
// response text.
func New(delay time.Duration, response string) *Provider {
	return &Provider{delay: delay, response: response}
}

// InvokeStream replays the canned response. Token counts are the chars/4
// estimate on both sides.
func (p *Provider) InvokeStream(ctx context.Context, messages []models.Message, systemPrompt string, onPartial providers.StreamFunc) (*providers.Result, error) {
	words := strings.Fields(p.response)
	var transcript string

	for i := range words {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}

		transcript = strings.Join(words[:i+1], " ")
		last := i == len(words)-1
		if i%3 != 0 && !last {
			continue
		}

		endNote := ""
		if last {
			endNote = fmt.Sprintf("input:%d output:%d ",
				p.inputEstimate(messages), providers.EstimateTokens(len(transcript)))
		}
		if err := onPartial(transcript, endNote, last); err != nil {
			return nil, err
		}
	}

	return &providers.Result{
		Text: transcript,
		Usage: providers.Usage{
			InputTokens:  p.inputEstimate(messages),
			OutputTokens: providers.EstimateTokens(len(transcript)),
		},
	}, nil
}

func (p *Provider) inputEstimate(messages []models.Message) int {
	chars := 0
	for _, m := range messages {
		chars += m.CharLen()
	}
	return providers.EstimateTokens(chars)
}
