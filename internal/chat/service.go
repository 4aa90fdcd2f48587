// Package chat implements the consumer side of the fan-out topic: the
// conversation-state reducer, the streaming response relay, and the
// service gluing them to the model backend and the stores.
package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/lark"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/providers"
	"github.com/larkbridge/larkbridge-backend/internal/usage"
)

const replyGenericFailure = "An error occurred while processing your request. Please try again later."

// Service processes fan-out events end to end: reduce, invoke, relay,
// persist, account.
type Service struct {
	appID     string
	reducer   *Reducer
	streamer  providers.Streamer
	messenger lark.Messenger
	ledger    *usage.Ledger
	log       *logrus.Logger
}

// NewService wires the chat pipeline.
func NewService(cfg config.LarkConfig, reducer *Reducer, streamer providers.Streamer, messenger lark.Messenger, ledger *usage.Ledger, log *logrus.Logger) *Service {
	return &Service{
		appID:     cfg.AppID,
		reducer:   reducer,
		streamer:  streamer,
		messenger: messenger,
		ledger:    ledger,
		log:       log,
	}
}

// HandleEvent is the bus subscriber entry point.
func (s *Service) HandleEvent(ctx context.Context, payload []byte) {
	var ev models.InboundEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.log.WithError(err).Error("malformed fan-out event, dropping")
		return
	}
	if err := s.Handle(ctx, ev); err != nil {
		s.log.WithError(err).WithField("chat_id", ev.OpenChatID).Error("chat turn failed")
	}
}

// Handle processes one inbound chat turn.
func (s *Service) Handle(ctx context.Context, ev models.InboundEvent) error {
	current, rawText, ok, err := s.buildMessage(ctx, ev)
	if err != nil {
		s.sendText(ctx, ev.OpenChatID, replyGenericFailure)
		return err
	}
	if !ok {
		// Unsupported subtype, already answered.
		return nil
	}

	action, err := s.reducer.Reduce(ctx, ev.OpenChatID, current, rawText)
	if err != nil {
		s.sendText(ctx, ev.OpenChatID, replyGenericFailure)
		return err
	}
	if action.Reply != "" {
		s.sendText(ctx, ev.OpenChatID, action.Reply)
		return nil
	}

	if !ev.MsgBody.OK() {
		return fmt.Errorf("placeholder reply missing for message %s", ev.MessageID)
	}

	relay := NewRelay(ctx, s.messenger, ev.MsgBody.MessageID, s.log)
	result, err := s.streamer.InvokeStream(ctx, action.Invocation.Messages, action.Invocation.SystemPrompt, relay.OnPartial)
	if err != nil {
		// Partial history is not persisted on a failed stream; the user
		// gets the generic retry message, the detail stays in the log.
		s.log.WithError(err).WithField("chat_id", ev.OpenChatID).Error("model invocation failed")
		s.sendText(ctx, ev.OpenChatID, replyGenericFailure)
		return err
	}

	if err := s.reducer.Commit(ctx, ev.OpenChatID, action.Invocation, result.Text); err != nil {
		s.log.WithError(err).Warn("history persist failed")
	}

	if err := s.ledger.Add(ctx, s.appID, result.Usage.InputTokens, result.Usage.OutputTokens); err != nil {
		s.log.WithError(err).Warn("usage accounting failed")
	}

	s.log.WithFields(logrus.Fields{
		"chat_id":       ev.OpenChatID,
		"input_tokens":  result.Usage.InputTokens,
		"output_tokens": result.Usage.OutputTokens,
		"citations":     len(result.Citations),
	}).Debug("chat turn completed")
	return nil
}

// buildMessage converts the wire event into a conversation Message. ok is
// false when the subtype is unsupported and a static reply was sent.
func (s *Service) buildMessage(ctx context.Context, ev models.InboundEvent) (models.Message, string, bool, error) {
	switch ev.MsgType {
	case "text":
		return models.NewTextMessage(models.RoleUser, ev.Msg), ev.Msg, true, nil

	case "image":
		data, err := s.messenger.GetImage(ctx, ev.MessageID, ev.Msg)
		if err != nil {
			return models.Message{}, "", false, fmt.Errorf("image download failed: %w", err)
		}
		prompt := s.reducer.ImagePrompt(ctx, ev.OpenChatID)
		encoded := base64.StdEncoding.EncodeToString(data)
		return models.NewImageMessage("image/png", encoded, prompt), "", true, nil

	default:
		s.sendText(ctx, ev.OpenChatID, fmt.Sprintf("'%s' format is unsupported.", ev.MsgType))
		return models.Message{}, "", false, nil
	}
}

func (s *Service) sendText(ctx context.Context, chatID, text string) {
	if err := s.messenger.SendText(ctx, chatID, text); err != nil {
		s.log.WithError(err).WithField("chat_id", chatID).Error("reply send failed")
	}
}
