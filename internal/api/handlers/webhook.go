package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/bus"
	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/lark"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/store"
)

// ChatTopic is the fan-out topic connecting the webhook handler to the
// chat service.
const ChatTopic = "lark.chat"

const messageReceiveEvent = "im.message.receive_v1"

// WebhookHandler terminates the messaging platform's event callbacks:
// decrypt, verify, dedupe, acknowledge with a placeholder card, and fan
// out for asynchronous processing.
type WebhookHandler struct {
	cfg       config.LarkConfig
	events    store.EventStore
	messenger lark.Messenger
	bus       *bus.Bus
	log       *logrus.Logger
}

// NewWebhookHandler wires the callback pipeline.
func NewWebhookHandler(cfg config.LarkConfig, events store.EventStore, messenger lark.Messenger, b *bus.Bus, log *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, events: events, messenger: messenger, bus: b, log: log}
}

type envelope struct {
	Encrypt   string       `json:"encrypt"`
	Type      string       `json:"type"`
	Challenge string       `json:"challenge"`
	Header    *eventHeader `json:"header"`
	Event     *eventBody   `json:"event"`
}

type eventHeader struct {
	Token     string `json:"token"`
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
}

type eventBody struct {
	Message struct {
		MessageID   string `json:"message_id"`
		ChatID      string `json:"chat_id"`
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	} `json:"message"`
}

// Handle is the webhook endpoint.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "No event body found"})
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request"})
	}

	if env.Encrypt != "" && h.cfg.EncryptKey != "" {
		plain, err := lark.DecryptEvent(env.Encrypt, h.cfg.EncryptKey)
		if err != nil {
			h.log.WithError(err).Warn("dropping undecryptable event")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request"})
		}
		env = envelope{}
		if err := json.Unmarshal(plain, &env); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request"})
		}
	}

	// URL-verification handshake: echo the challenge back.
	if env.Type == "url_verification" || env.Challenge != "" {
		return c.JSON(fiber.Map{"challenge": env.Challenge})
	}

	if env.Header == nil || env.Header.Token != h.cfg.VerificationToken {
		h.log.Warn("webhook token mismatch or unrecognized request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request"})
	}
	if env.Header.EventType != messageReceiveEvent || env.Event == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid request"})
	}

	ctx := c.Context()
	eventID := env.Header.EventID
	if h.events.Seen(ctx, eventID) {
		h.log.WithField("event_id", eventID).Info("duplicate event, ignoring")
		return c.SendStatus(fiber.StatusOK)
	}
	header, _ := json.Marshal(env.Header)
	if err := h.events.Save(ctx, eventID, header); err != nil {
		h.log.WithError(err).Warn("event record save failed")
	}

	message := env.Event.Message
	msg := extractContent(message.MessageType, message.Content)

	// Acknowledge immediately with a pending card; inference happens on
	// the other side of the topic.
	card := lark.BuildCard("Pending", lark.CurrentTime(), "...", "", false, true)
	receipt, err := h.messenger.ReplyCard(ctx, message.MessageID, card)
	if err != nil {
		h.log.WithError(err).Error("placeholder reply failed")
		h.notifyFailure(c, message.ChatID)
		return c.SendStatus(fiber.StatusOK)
	}

	ev := models.InboundEvent{
		MsgType:    message.MessageType,
		Msg:        msg,
		OpenChatID: message.ChatID,
		MessageID:  message.MessageID,
		MsgBody:    receipt,
	}
	if err := h.bus.Publish(ctx, ChatTopic, ev); err != nil {
		h.log.WithError(err).Error("fan-out publish failed")
		h.notifyFailure(c, message.ChatID)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *WebhookHandler) notifyFailure(c *fiber.Ctx, chatID string) {
	if err := h.messenger.SendText(c.Context(), chatID, "Something went wrong, please try again later."); err != nil {
		h.log.WithError(err).Error("failure notice send failed")
	}
}

// extractContent pulls the payload out of the type-specific content JSON:
// the text for text messages, the file key for images. Unknown subtypes
// pass through raw; the chat service answers with the unsupported-format
// reply.
func extractContent(messageType, content string) string {
	switch messageType {
	case "text":
		var c struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(content), &c); err == nil {
			return c.Text
		}
	case "image":
		var c struct {
			ImageKey string `json:"image_key"`
		}
		if err := json.Unmarshal([]byte(content), &c); err == nil {
			return c.ImageKey
		}
	}
	return content
}
