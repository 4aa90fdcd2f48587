package bedrock

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
	"github.com/larkbridge/larkbridge-backend/internal/providers/awssign"
)

const anthropicVersion = "bedrock-2023-05-31"

// Provider streams completions from the primary Claude backend. One
// instance is reusable across invocations; endpoint and sampling parameters
// are fixed at construction.
type Provider struct {
	cfg    config.ModelConfig
	client *http.Client
	log    *logrus.Logger
}

type request struct {
	AnthropicVersion string           `json:"anthropic_version"`
	System           string           `json:"system,omitempty"`
	Messages         []models.Message `json:"messages"`
	Temperature      float64          `json:"temperature"`
	TopP             float64          `json:"top_p"`
	MaxTokens        int              `json:"max_tokens"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Role string `json:"role"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Metrics *invocationMetrics `json:"amazon-bedrock-invocationMetrics,omitempty"`
}

type invocationMetrics struct {
	InputTokenCount   int `json:"inputTokenCount"`
	OutputTokenCount  int `json:"outputTokenCount"`
	InvocationLatency int `json:"invocationLatency"`
	FirstByteLatency  int `json:"firstByteLatency"`
}

// New creates a primary-backend streamer from validated configuration.
func New(cfg config.ModelConfig, log *logrus.Logger) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}, log: log}
}

func (p *Provider) endpoint() string {
	if p.cfg.BaseURL != "" {
		return fmt.Sprintf("%s/model/%s/invoke-with-response-stream", strings.TrimSuffix(p.cfg.BaseURL, "/"), p.cfg.ModelID)
	}
	return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/invoke-with-response-stream", p.cfg.Region, p.cfg.ModelID)
}

// InvokeStream sends the framed conversation and consumes the chunked event
// stream. Deltas accumulate into the transcript; the callback fires on the
// first delta, then every 10-20 deltas, and always on the stop event, which
// carries the provider-reported token counts.
func (p *Provider) InvokeStream(ctx context.Context, messages []models.Message, systemPrompt string, onPartial providers.StreamFunc) (*providers.Result, error) {
	payload := request{
		AnthropicVersion: anthropicVersion,
		System:           systemPrompt,
		Messages:         messages,
		Temperature:      p.cfg.Temperature,
		TopP:             p.cfg.TopP,
		MaxTokens:        p.cfg.MaxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	awssign.Sign(httpReq, body, p.cfg.Region, "bedrock", p.cfg.AccessKey, p.cfg.SecretKey)

	p.log.WithFields(logrus.Fields{
		"model":    p.cfg.ModelID,
		"messages": len(messages),
	}).Debug("invoking primary model stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("primary backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		respBody, _ := io.ReadAll(resp.Body)
		p.log.WithFields(logrus.Fields{
			"model":  p.cfg.ModelID,
			"status": resp.Status,
			"body":   string(respBody),
		}).Error("access denied invoking primary model")
		return nil, fmt.Errorf("invoking %s: %w", p.cfg.ModelID, providers.ErrAuthorization)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("primary backend error: %s - %s", resp.Status, string(respBody))
	}

	var (
		transcript strings.Builder
		usage      providers.Usage
		finalized  bool
		idx        int
	)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("primary backend stream failed: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue // skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				p.log.WithField("role", event.Message.Role).Debug("primary stream started")
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			transcript.WriteString(event.Delta.Text)
			if idx%randInt(10, 20) == 0 {
				if err := onPartial(transcript.String(), "", false); err != nil {
					return nil, err
				}
			}
			idx++
		case "message_stop":
			if event.Metrics != nil {
				usage.InputTokens = event.Metrics.InputTokenCount
				usage.OutputTokens = event.Metrics.OutputTokenCount
				p.log.WithFields(logrus.Fields{
					"input_tokens":       usage.InputTokens,
					"output_tokens":      usage.OutputTokens,
					"invocation_latency": event.Metrics.InvocationLatency,
				}).Debug("primary stream completed")
			}
			endNote := fmt.Sprintf("input:%d output:%d ", usage.InputTokens, usage.OutputTokens)
			if err := onPartial(transcript.String(), endNote, true); err != nil {
				return nil, err
			}
			finalized = true
		}
	}

	if !finalized {
		return nil, fmt.Errorf("primary backend stream ended without a stop event")
	}

	return &providers.Result{Text: transcript.String(), Usage: usage}, nil
}

// randInt returns a random int in [min, max].
func randInt(min, max int) int {
	return rand.Intn(max-min+1) + min
}
