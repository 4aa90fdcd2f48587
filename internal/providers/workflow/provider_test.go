package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		Region:          "us-east-1",
		AccessKey:       "ak",
		SecretKey:       "sk",
		KnowledgeBaseID: "kb-123",
		ModelARN:        "arn:aws:bedrock:us-east-1::foundation-model/claude",
		BaseURL:         baseURL,
	}
}

func sseServer(t *testing.T, lines []string, capture *request) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("Authorization"), "request must be signed")
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
	}))
}

func TestInvokeStreamWorkflowLifecycle(t *testing.T) {
	lines := []string{
		`{"event":"workflow_started","session_id":"sess-1"}`,
		`{"event":"ping"}`,
		`{"event":"node_finished","data":{"outputs":{"text":"The answer"},"execution_metadata":{"total_tokens":100}}}`,
		`{"event":"citation","data":{"references":[{"uri":"s3://kb/doc-a.pdf"},{"uri":"s3://kb/doc-b.pdf"}]}}`,
		`{"event":"workflow_finished","data":{"outputs":{"text":"The answer, refined."},"total_tokens":120},"session_id":"sess-1"}`,
	}
	var captured request
	srv := sseServer(t, lines, &captured)
	defer srv.Close()

	p := New(testConfig(srv.URL), testLogger())
	messages := []models.Message{
		models.NewTextMessage(models.RoleUser, "earlier question"),
		models.NewTextMessage(models.RoleAssistant, "earlier answer"),
		models.NewTextMessage(models.RoleUser, "what is the answer?"),
	}

	var finals []string
	result, err := p.InvokeStream(context.Background(), messages, "be factual",
		func(text, endNote string, final bool) error {
			if final {
				finals = append(finals, endNote)
				assert.Equal(t, "The answer, refined.", text)
			}
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, "The answer, refined.", result.Text)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, []string{"s3://kb/doc-a.pdf", "s3://kb/doc-b.pdf"}, result.Citations)

	// 120 total split 30/70.
	assert.Equal(t, 36, result.Usage.InputTokens)
	assert.Equal(t, 84, result.Usage.OutputTokens)
	require.Len(t, finals, 1)
	assert.Equal(t, "input:36 output:84 ", finals[0])

	// Only the last user message is the question; prompt and history ride
	// along as input variables.
	assert.Equal(t, "what is the answer?", captured.Input.Text)
	assert.Equal(t, "streaming", captured.ResponseMode)
	assert.Equal(t, "KNOWLEDGE_BASE", captured.Retrieval.Type)
	assert.Equal(t, "kb-123", captured.Retrieval.KnowledgeBaseID)
	assert.Equal(t, "be factual", captured.Inputs["system_prompt"])
	history, ok := captured.Inputs["conversation_history"].([]any)
	require.True(t, ok)
	assert.Len(t, history, 2)
}

func TestInvokeStreamTokenFallbackEstimate(t *testing.T) {
	lines := []string{
		`{"event":"workflow_finished","data":{"outputs":{"text":"abcdefgh"}}}`,
	}
	srv := sseServer(t, lines, nil)
	defer srv.Close()

	p := New(testConfig(srv.URL), testLogger())
	result, err := p.InvokeStream(context.Background(),
		[]models.Message{models.NewTextMessage(models.RoleUser, "12345678")}, "",
		func(string, string, bool) error { return nil })
	require.NoError(t, err)

	// No backend-reported tokens: chars/4 over question+answer (16 chars =
	// 4 tokens), split 30/70 with rounding.
	total := providers.EstimateTokens(16)
	assert.Equal(t, int(float64(total)*0.3+0.5), result.Usage.InputTokens)
	assert.Equal(t, int(float64(total)*0.7+0.5), result.Usage.OutputTokens)
}

func TestInvokeStreamNoOutput(t *testing.T) {
	srv := sseServer(t, []string{`{"event":"ping"}`}, nil)
	defer srv.Close()

	p := New(testConfig(srv.URL), testLogger())
	_, err := p.InvokeStream(context.Background(),
		[]models.Message{models.NewTextMessage(models.RoleUser, "hi")}, "",
		func(string, string, bool) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
}

func TestInvokeStreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream unavailable")
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL), testLogger())
	_, err := p.InvokeStream(context.Background(),
		[]models.Message{models.NewTextMessage(models.RoleUser, "hi")}, "",
		func(string, string, bool) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow backend error")
}

func TestLastUserText(t *testing.T) {
	messages := []models.Message{
		models.NewTextMessage(models.RoleUser, "first"),
		models.NewTextMessage(models.RoleAssistant, "reply"),
		models.NewTextMessage(models.RoleUser, "second"),
	}
	assert.Equal(t, "second", lastUserText(messages))
	assert.Equal(t, "", lastUserText(nil))
}

func TestEndpointDefaultsToRegion(t *testing.T) {
	p := New(testConfig(""), testLogger())
	assert.Equal(t,
		"https://bedrock-agent-runtime.us-east-1.amazonaws.com/knowledgebases/kb-123/retrieve-and-generate-stream",
		p.endpoint())
}
