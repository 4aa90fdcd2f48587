package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Lark   LarkConfig   `mapstructure:"lark"`
	Model  ModelConfig  `mapstructure:"model"`
	Chat   ChatConfig   `mapstructure:"chat"`
	Store  StoreConfig  `mapstructure:"store"`
	Debug  bool         `mapstructure:"debug"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LarkConfig holds the messaging-app credentials and webhook secrets.
type LarkConfig struct {
	AppID             string `mapstructure:"app_id"`
	AppSecret         string `mapstructure:"app_secret"`
	VerificationToken string `mapstructure:"verification_token"`
	EncryptKey        string `mapstructure:"encrypt_key"`
	BaseURL           string `mapstructure:"base_url"`
}

// ModelConfig holds the model backend selection plus every per-kind setting.
// Which fields are required depends on the kind; the factory validates them.
type ModelConfig struct {
	Kind            string  `mapstructure:"kind"`
	Region          string  `mapstructure:"region"`
	AccessKey       string  `mapstructure:"access_key"`
	SecretKey       string  `mapstructure:"secret_key"`
	ModelID         string  `mapstructure:"model_id"`
	KnowledgeBaseID string  `mapstructure:"knowledge_base_id"`
	ModelARN        string  `mapstructure:"model_arn"`
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	Temperature     float64 `mapstructure:"temperature"`
	TopP            float64 `mapstructure:"top_p"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	MockDelayMs     int     `mapstructure:"mock_delay_ms"`
	MockResponse    string  `mapstructure:"mock_response"`
}

// ChatConfig bounds conversation state and carries the prompt defaults.
type ChatConfig struct {
	MaxTurns            int    `mapstructure:"max_turns"`
	ChatQuota           int    `mapstructure:"chat_quota"`
	DefaultSystemPrompt string `mapstructure:"default_system_prompt"`
	ImageDescPrompt     string `mapstructure:"image_desc_prompt"`
	ResetCommand        string `mapstructure:"reset_command"`
	HistoryTTLHours     int    `mapstructure:"history_ttl_hours"`
}

type StoreConfig struct {
	Path         string         `mapstructure:"path"`
	UsageBackend string         `mapstructure:"usage_backend"`
	Database     DatabaseConfig `mapstructure:"database"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MaxRetained is the hard cap on persisted sequence length: max_turns user
// messages, their replies, plus the in-flight user message.
func (c ChatConfig) MaxRetained() int {
	return c.MaxTurns*2 + 1
}

// Load reads configuration from config.yaml plus LARKBRIDGE_* environment
// overrides (e.g. LARKBRIDGE_MODEL_ACCESS_KEY).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("LARKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file is fine, env and defaults carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("lark.base_url", "https://open.feishu.cn")

	v.SetDefault("model.kind", "primary")
	v.SetDefault("model.temperature", 0.8)
	v.SetDefault("model.top_p", 0.9)
	v.SetDefault("model.max_tokens", 2048)
	v.SetDefault("model.mock_delay_ms", 100)
	v.SetDefault("model.mock_response", "Acknowledged, this is a canned streaming response used for testing.")

	v.SetDefault("chat.max_turns", 10)
	v.SetDefault("chat.chat_quota", 100)
	v.SetDefault("chat.default_system_prompt", "You are a helpful assistant.")
	v.SetDefault("chat.image_desc_prompt", "Describe this image in detail.")
	v.SetDefault("chat.reset_command", "/rs")
	v.SetDefault("chat.history_ttl_hours", 24)

	v.SetDefault("store.path", "./data")
	v.SetDefault("store.usage_backend", "badger")
	v.SetDefault("store.database.host", "localhost")
	v.SetDefault("store.database.port", 5432)
	v.SetDefault("store.database.user", "larkbridge")
	v.SetDefault("store.database.database", "larkbridge")
	v.SetDefault("store.database.sslmode", "disable")

	v.SetDefault("debug", false)
}
