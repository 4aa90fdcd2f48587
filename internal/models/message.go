package models

import "strings"

// Message roles as stored in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentPart is one block of a message body. Text messages carry a single
// text part; image messages carry an image part plus a text part holding the
// description-elicitation prompt.
type ContentPart struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource is an inline base64-encoded image payload.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is a single turn half (user or assistant) in a conversation.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// NewTextMessage builds a plain-text message.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentPart{{Type: "text", Text: text}},
	}
}

// NewImageMessage builds a multimodal user message: the image followed by a
// text part prompting the model to describe it.
func NewImageMessage(mediaType, base64Data, prompt string) Message {
	return Message{
		Role: RoleUser,
		Content: []ContentPart{
			{Type: "image", Source: &ImageSource{Type: "base64", MediaType: mediaType, Data: base64Data}},
			{Type: "text", Text: prompt},
		},
	}
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// CharLen is the total character count of the message body, used for the
// coarse chars/4 token estimate when a backend reports no usage.
func (m Message) CharLen() int {
	n := 0
	for _, p := range m.Content {
		n += len(p.Text)
		if p.Source != nil {
			n += len(p.Source.Data)
		}
	}
	return n
}
