package models

// ConversationRecord is the persisted state of one chat, keyed by chat ID.
// Messages are ordered oldest first; SystemPrompt is the chat-specific
// override, empty when the configured default applies. Records expire via
// store-level TTL rather than an explicit delete path.
type ConversationRecord struct {
	ChatID       string    `json:"chat_id"`
	Messages     []Message `json:"messages"`
	SystemPrompt string    `json:"system_prompt"`
}

// TokenCount is the cumulative usage counter for one app identity. Both
// fields are monotonically non-decreasing.
type TokenCount struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add returns the counter advanced by one invocation's usage delta.
func (t TokenCount) Add(in, out int) TokenCount {
	return TokenCount{
		InputTokens:  t.InputTokens + in,
		OutputTokens: t.OutputTokens + out,
	}
}
