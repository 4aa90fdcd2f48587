package factory

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
	"github.com/larkbridge/larkbridge-backend/internal/providers/bedrock"
	"github.com/larkbridge/larkbridge-backend/internal/providers/mock"
	"github.com/larkbridge/larkbridge-backend/internal/providers/openai"
	"github.com/larkbridge/larkbridge-backend/internal/providers/workflow"
)

// Backend kinds. The set is closed: anything else is a fatal,
// non-retryable configuration error.
const (
	KindPrimary = "primary"
	KindRAG     = "rag"
	KindOpenAI  = "openai"
	KindMock    = "mock"
)

// ConfigError reports every missing required key for a kind, not just the
// first, so a misconfigured deployment can be fixed in one pass.
type ConfigError struct {
	Kind    string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration for %s: %s", e.Kind, strings.Join(e.Missing, ", "))
}

// Override carries per-key configuration overrides; nil fields keep the
// resolved default.
type Override struct {
	Region          *string
	ModelID         *string
	KnowledgeBaseID *string
	ModelARN        *string
	APIKey          *string
	BaseURL         *string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	MockDelayMs     *int
	MockResponse    *string
}

// Create validates the per-kind required configuration eagerly, applies the
// override, and constructs the matching Streamer. Adding a backend means
// adding one variant package and one branch here.
func Create(kind string, cfg config.ModelConfig, override *Override, log *logrus.Logger) (providers.Streamer, error) {
	cfg = merge(cfg, override)

	if missing := missingKeys(kind, cfg); len(missing) > 0 {
		return nil, &ConfigError{Kind: kind, Missing: missing}
	}

	switch strings.ToLower(kind) {
	case KindPrimary:
		return bedrock.New(cfg, log), nil
	case KindRAG:
		return workflow.New(cfg, log), nil
	case KindOpenAI:
		return openai.New(cfg, log), nil
	case KindMock:
		return mock.New(time.Duration(cfg.MockDelayMs)*time.Millisecond, cfg.MockResponse), nil
	default:
		return nil, fmt.Errorf("unknown model kind: %s", kind)
	}
}

// Fingerprint returns the client-cache key for the resolved configuration.
func Fingerprint(kind string, cfg config.ModelConfig, override *Override) string {
	cfg = merge(cfg, override)
	return providers.Fingerprint(kind,
		cfg.Region, cfg.AccessKey, cfg.SecretKey, cfg.ModelID,
		cfg.KnowledgeBaseID, cfg.ModelARN, cfg.APIKey, cfg.BaseURL,
		fmt.Sprintf("%g/%g/%d", cfg.Temperature, cfg.TopP, cfg.MaxTokens))
}

func missingKeys(kind string, cfg config.ModelConfig) []string {
	required := map[string]string{}
	switch strings.ToLower(kind) {
	case KindPrimary:
		required = map[string]string{
			"region":     cfg.Region,
			"access_key": cfg.AccessKey,
			"secret_key": cfg.SecretKey,
			"model_id":   cfg.ModelID,
		}
	case KindRAG:
		required = map[string]string{
			"region":            cfg.Region,
			"access_key":        cfg.AccessKey,
			"secret_key":        cfg.SecretKey,
			"knowledge_base_id": cfg.KnowledgeBaseID,
			"model_arn":         cfg.ModelARN,
		}
	case KindOpenAI:
		required = map[string]string{
			"api_key":  cfg.APIKey,
			"model_id": cfg.ModelID,
		}
	}

	var missing []string
	// Deterministic order so the error message is stable.
	for _, key := range []string{"region", "access_key", "secret_key", "model_id", "knowledge_base_id", "model_arn", "api_key"} {
		if val, ok := required[key]; ok && val == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func merge(cfg config.ModelConfig, o *Override) config.ModelConfig {
	if o == nil {
		return cfg
	}
	if o.Region != nil {
		cfg.Region = *o.Region
	}
	if o.ModelID != nil {
		cfg.ModelID = *o.ModelID
	}
	if o.KnowledgeBaseID != nil {
		cfg.KnowledgeBaseID = *o.KnowledgeBaseID
	}
	if o.ModelARN != nil {
		cfg.ModelARN = *o.ModelARN
	}
	if o.APIKey != nil {
		cfg.APIKey = *o.APIKey
	}
	if o.BaseURL != nil {
		cfg.BaseURL = *o.BaseURL
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		cfg.TopP = *o.TopP
	}
	if o.MaxTokens != nil {
		cfg.MaxTokens = *o.MaxTokens
	}
	if o.MockDelayMs != nil {
		cfg.MockDelayMs = *o.MockDelayMs
	}
	if o.MockResponse != nil {
		cfg.MockResponse = *o.MockResponse
	}
	return cfg
}
