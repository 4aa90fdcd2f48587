package workflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
	"github.com/larkbridge/larkbridge-backend/internal/providers/awssign"
)

// Provider streams answers from the knowledge-base workflow backend. The
// backend orchestrates retrieval and generation itself, so only the last
// user message is submitted as the question; prompt and history ride along
// as workflow input variables.
type Provider struct {
	cfg    config.ModelConfig
	client *http.Client
	log    *logrus.Logger
}

type request struct {
	Input        requestInput   `json:"input"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	ResponseMode string         `json:"response_mode"`
	Retrieval    retrievalConf  `json:"retrieve_and_generate_configuration"`
}

type requestInput struct {
	Text string `json:"text"`
}

type retrievalConf struct {
	Type            string `json:"type"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	ModelARN        string `json:"model_arn"`
}

// streamEvent covers the workflow lifecycle events the backend emits.
// Only node_finished / workflow_finished events carrying an output text
// advance the transcript.
type streamEvent struct {
	Event         string     `json:"event"`
	TaskID        string     `json:"task_id,omitempty"`
	WorkflowRunID string     `json:"workflow_run_id,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	Data          *eventData `json:"data,omitempty"`
}

type eventData struct {
	Outputs *struct {
		Text string `json:"text"`
	} `json:"outputs,omitempty"`
	ExecutionMetadata *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"execution_metadata,omitempty"`
	TotalTokens int         `json:"total_tokens,omitempty"`
	References  []reference `json:"references,omitempty"`
}

type reference struct {
	URI string `json:"uri"`
}

// New creates a workflow-backend streamer from validated configuration.
func New(cfg config.ModelConfig, log *logrus.Logger) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}, log: log}
}

func (p *Provider) endpoint() string {
	if p.cfg.BaseURL != "" {
		return strings.TrimSuffix(p.cfg.BaseURL, "/") + "/workflows/run"
	}
	return fmt.Sprintf("https://bedrock-agent-runtime.%s.amazonaws.com/knowledgebases/%s/retrieve-and-generate-stream",
		p.cfg.Region, p.cfg.KnowledgeBaseID)
}

// InvokeStream submits the question and consumes the workflow event stream.
// Token counts are backend-estimated: the reported total is split 30/70
// between input and output, with a chars/4 fallback when the backend
// reports nothing. Not comparable with the primary backend's exact counts.
func (p *Provider) InvokeStream(ctx context.Context, messages []models.Message, systemPrompt string, onPartial providers.StreamFunc) (*providers.Result, error) {
	question := lastUserText(messages)

	inputs := map[string]any{}
	if systemPrompt != "" {
		inputs["system_prompt"] = systemPrompt
	}
	if len(messages) > 1 {
		history := make([]map[string]string, 0, len(messages)-1)
		for _, m := range messages[:len(messages)-1] {
			history = append(history, map[string]string{"role": m.Role, "content": m.Text()})
		}
		inputs["conversation_history"] = history
	}

	payload := request{
		Input:        requestInput{Text: question},
		Inputs:       inputs,
		ResponseMode: "streaming",
		Retrieval: retrievalConf{
			Type:            "KNOWLEDGE_BASE",
			KnowledgeBaseID: p.cfg.KnowledgeBaseID,
			ModelARN:        p.cfg.ModelARN,
		},
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
	httpReq.Header.Set("Accept", "text/event-stream")
	awssign.Sign(httpReq, body, p.cfg.Region, "bedrock", p.cfg.AccessKey, p.cfg.SecretKey)

	p.log.WithFields(logrus.Fields{
		"knowledge_base": p.cfg.KnowledgeBaseID,
		"question_len":   len(question),
	}).Debug("invoking workflow stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("workflow backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("workflow backend error: %s - %s", resp.Status, string(respBody))
	}

	var (
		transcript  string
		citations   []string
		sessionID   string
		totalTokens int
		finished    bool
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			p.log.WithError(err).Debug("skipping malformed workflow event")
			continue
		}

		switch event.Event {
		case "workflow_started":
			if event.SessionID != "" {
				sessionID = event.SessionID
			}
		case "node_finished":
			if event.Data == nil {
				continue
			}
			if event.Data.Outputs != nil && event.Data.Outputs.Text != "" {
				transcript = event.Data.Outputs.Text
				if err := onPartial(transcript, "", false); err != nil {
					return nil, err
				}
			}
			if event.Data.ExecutionMetadata != nil && event.Data.ExecutionMetadata.TotalTokens > 0 {
				totalTokens = event.Data.ExecutionMetadata.TotalTokens
			}
		case "citation":
			if event.Data == nil {
				continue
			}
			for _, ref := range event.Data.References {
				if ref.URI != "" {
					citations = append(citations, ref.URI)
				}
			}
		case "workflow_finished":
			if event.Data != nil {
				if event.Data.Outputs != nil && event.Data.Outputs.Text != "" {
					transcript = event.Data.Outputs.Text
				}
				if event.Data.TotalTokens > 0 {
					totalTokens = event.Data.TotalTokens
				}
			}
			if event.SessionID != "" {
				sessionID = event.SessionID
			}
			finished = true
		case "ping":
			// keep-alive
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("workflow backend stream failed: %w", err)
	}

	if !finished && transcript == "" {
		return nil, fmt.Errorf("workflow backend stream produced no output")
	}

	if totalTokens == 0 {
		totalTokens = providers.EstimateTokens(len(question) + len(transcript))
	}
	usage := providers.Usage{
		InputTokens:  int(float64(totalTokens)*0.3 + 0.5),
		OutputTokens: int(float64(totalTokens)*0.7 + 0.5),
	}

	endNote := fmt.Sprintf("input:%d output:%d ", usage.InputTokens, usage.OutputTokens)
	if err := onPartial(transcript, endNote, true); err != nil {
		return nil, err
	}

	return &providers.Result{
		Text:      transcript,
		Usage:     usage,
		Citations: citations,
		SessionID: sessionID,
	}, nil
}

// lastUserText extracts the question for the workflow backend: the text of
// the most recent user message.
func lastUserText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
