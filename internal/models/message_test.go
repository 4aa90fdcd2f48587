package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextMessage(t *testing.T) {
	m := NewTextMessage(RoleUser, "hello")
	assert.Equal(t, RoleUser, m.Role)
	assert.Equal(t, "hello", m.Text())
	assert.Equal(t, 5, m.CharLen())
}

func TestNewImageMessage(t *testing.T) {
	m := NewImageMessage("image/png", "aGVsbG8=", "describe this")
	assert.Equal(t, RoleUser, m.Role)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "image", m.Content[0].Type)
	assert.Equal(t, "image/png", m.Content[0].Source.MediaType)
	assert.Equal(t, "describe this", m.Text(), "Text skips the image part")
	assert.Equal(t, len("aGVsbG8=")+len("describe this"), m.CharLen())
}

func TestMessageJSONShape(t *testing.T) {
	out, err := json.Marshal(NewTextMessage(RoleAssistant, "hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":[{"type":"text","text":"hi"}]}`, string(out))
}

func TestReplyReceiptOK(t *testing.T) {
	assert.True(t, ReplyReceipt{Msg: "success", MessageID: "om_x"}.OK())
	assert.False(t, ReplyReceipt{Msg: "success"}.OK(), "missing message id")
	assert.False(t, ReplyReceipt{Msg: "bot not in chat", MessageID: "om_x"}.OK())
}

func TestInboundEventWireFormat(t *testing.T) {
	ev := InboundEvent{
		MsgType:    "text",
		Msg:        "hello",
		OpenChatID: "oc_chat",
		MessageID:  "om_user",
		MsgBody:    ReplyReceipt{Code: 0, Msg: "success", MessageID: "om_reply"},
	}
	out, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded InboundEvent
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, ev, decoded)

	// Field names are the fan-out wire contract.
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))
	for _, key := range []string{"msg_type", "msg", "open_chat_id", "message_id", "msg_body"} {
		assert.Contains(t, raw, key)
	}
}

func TestTokenCountAdd(t *testing.T) {
	total := TokenCount{InputTokens: 10, OutputTokens: 20}.Add(5, 5)
	assert.Equal(t, TokenCount{InputTokens: 15, OutputTokens: 25}, total)
}
