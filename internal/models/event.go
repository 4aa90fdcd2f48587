package models

// ReplyReceipt is the messaging API's acknowledgement of the placeholder
// card reply, carried on the fan-out event so the consumer can edit the
// placeholder in place.
type ReplyReceipt struct {
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	MessageID string `json:"message_id"`
}

// OK reports whether the placeholder reply succeeded.
func (r ReplyReceipt) OK() bool {
	return r.Msg == "success" && r.MessageID != ""
}

// InboundEvent is the fan-out message published by the webhook handler and
// consumed by the chat service. Msg holds the message text for text
// messages and the file key for image messages.
type InboundEvent struct {
	MsgType    string       `json:"msg_type"`
	Msg        string       `json:"msg"`
	OpenChatID string       `json:"open_chat_id"`
	MessageID  string       `json:"message_id"`
	MsgBody    ReplyReceipt `json:"msg_body"`
}
