package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
)

// Provider streams chat completions from an OpenAI-compatible endpoint.
type Provider struct {
	cfg    config.ModelConfig
	client *openai.Client
	log    *logrus.Logger
}

// New creates an OpenAI-compatible streamer from validated configuration.
func New(cfg config.ModelConfig, log *logrus.Logger) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{cfg: cfg, client: openai.NewClientWithConfig(clientCfg), log: log}
}

// InvokeStream streams the completion, accumulating deltas into the
// transcript with the same 10-20 delta callback throttle as the primary
// backend. The stream reports no usage, so tokens fall back to the chars/4
// estimate.
func (p *Provider) InvokeStream(ctx context.Context, messages []models.Message, systemPrompt string, onPartial providers.StreamFunc) (*providers.Result, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.cfg.ModelID,
		Temperature: float32(p.cfg.Temperature),
		TopP:        float32(p.cfg.TopP),
		MaxTokens:   p.cfg.MaxTokens,
		Stream:      true,
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	inputChars := len(systemPrompt)
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Text(),
		})
		inputChars += m.CharLen()
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403) {
			p.log.WithError(err).WithField("model", p.cfg.ModelID).Error("access denied invoking openai-compatible backend")
			return nil, fmt.Errorf("invoking %s: %w", p.cfg.ModelID, providers.ErrAuthorization)
		}
		return nil, fmt.Errorf("openai-compatible backend request failed: %w", err)
	}
	defer stream.Close()

	var (
		transcript strings.Builder
		idx        int
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai-compatible stream failed: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}

		transcript.WriteString(resp.Choices[0].Delta.Content)
		if idx%randInt(10, 20) == 0 {
			if err := onPartial(transcript.String(), "", false); err != nil {
				return nil, err
			}
		}
		idx++
	}

	usage := providers.Usage{
		InputTokens:  providers.EstimateTokens(inputChars),
		OutputTokens: providers.EstimateTokens(transcript.Len()),
	}
	endNote := fmt.Sprintf("input:%d output:%d ", usage.InputTokens, usage.OutputTokens)
	if err := onPartial(transcript.String(), endNote, true); err != nil {
		return nil, err
	}

	return &providers.Result{Text: transcript.String(), Usage: usage}, nil
}

func randInt(min, max int) int {
	return rand.Intn(max-min+1) + min
}
