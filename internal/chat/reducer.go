package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/config"
	"github.com/larkbridge/larkbridge-backend/internal/models"
	"github.com/larkbridge/larkbridge-backend/internal/store"
	"github.com/larkbridge/larkbridge-backend/internal/usage"
)

// Control commands recognized in text messages. The reset token is
// configurable; the rest are fixed.
const (
	debugCommand        = "/debug"
	tokenCountCommand   = "/tc"
	systemPromptCommand = "/sp"
)

// Static replies.
const (
	replyFlushed       = "Flushed! Let's chat!"
	replyQuotaExceeded = "max chat quota reached!"
	replyPromptUpdated = "System prompt updated! Let's chat!"
)

// Invocation is the chat action: the bounded, ordered message sequence to
// submit together with the effective system prompt.
type Invocation struct {
	Messages     []models.Message
	SystemPrompt string
}

// Action is the reducer outcome: a static early-return reply, or an
// Invocation for the model backend. Exactly one of the two is set.
type Action struct {
	Reply      string
	Invocation *Invocation
}

// DebugFlag is the runtime-togglable debug verbosity switch. Toggling it
// moves the shared logger between Info and Debug level.
type DebugFlag struct {
	enabled atomic.Bool
	log     *logrus.Logger
}

// NewDebugFlag creates the flag and applies the initial state to log.
func NewDebugFlag(initial bool, log *logrus.Logger) *DebugFlag {
	f := &DebugFlag{log: log}
	f.enabled.Store(initial)
	f.apply(initial)
	return f
}

// Toggle flips the flag and returns the new state.
func (f *DebugFlag) Toggle() bool {
	next := !f.enabled.Load()
	f.enabled.Store(next)
	f.apply(next)
	return next
}

// Enabled reports the current state.
func (f *DebugFlag) Enabled() bool {
	return f.enabled.Load()
}

func (f *DebugFlag) apply(on bool) {
	if on {
		f.log.SetLevel(logrus.DebugLevel)
	} else {
		f.log.SetLevel(logrus.InfoLevel)
	}
}

// Reducer turns an inbound message plus persisted history into either an
// early-return reply (commands, quota, unsupported input) or a bounded
// invocation for the model backend.
type Reducer struct {
	cfg           config.ChatConfig
	appID         string
	conversations store.ConversationStore
	ledger        *usage.Ledger
	debug         *DebugFlag
	log           *logrus.Logger
}

// NewReducer creates a reducer bound to the conversation store, the usage
// ledger (for the token-count command), and the debug flag.
func NewReducer(cfg config.ChatConfig, appID string, conversations store.ConversationStore, ledger *usage.Ledger, debug *DebugFlag, log *logrus.Logger) *Reducer {
	return &Reducer{
		cfg:           cfg,
		appID:         appID,
		conversations: conversations,
		ledger:        ledger,
		debug:         debug,
		log:           log,
	}
}

// Reduce classifies the inbound message. rawText is the plain message text
// for text messages and empty otherwise, so only text messages can match a
// command.
func (r *Reducer) Reduce(ctx context.Context, chatID string, current models.Message, rawText string) (Action, error) {
	if rawText != "" {
		if action, handled := r.reduceCommand(ctx, chatID, rawText); handled {
			return action, nil
		}
	}
	return r.reduceChat(ctx, chatID, current)
}

func (r *Reducer) reduceCommand(ctx context.Context, chatID, text string) (Action, bool) {
	switch {
	case text == r.cfg.ResetCommand:
		r.log.WithField("chat_id", chatID).Info("reset command, clearing conversation")
		if err := r.conversations.Save(ctx, chatID, nil, ""); err != nil {
			r.log.WithError(err).Warn("reset save failed")
		}
		return Action{Reply: replyFlushed}, true

	case text == debugCommand:
		state := "disabled"
		if r.debug.Toggle() {
			state = "enabled"
		}
		return Action{Reply: fmt.Sprintf("Debug mode is now %s.", state)}, true

	case text == tokenCountCommand:
		tokens, err := r.ledger.Get(ctx, r.appID)
		if err != nil {
			r.log.WithError(err).Warn("token count read failed")
		}
		out, _ := json.Marshal(tokens)
		return Action{Reply: string(out)}, true

	case text == systemPromptCommand:
		// Bare /sp shows the effective prompt.
		return Action{Reply: "System prompt: " + r.effectivePrompt(ctx, chatID)}, true

	case strings.HasPrefix(text, systemPromptCommand+" "):
		prompt := strings.TrimSpace(strings.TrimPrefix(text, systemPromptCommand+" "))
		record, _ := r.conversations.Get(ctx, chatID)
		var prev []models.Message
		if record != nil {
			prev = record.Messages
		}
		if err := r.conversations.Save(ctx, chatID, prev, prompt); err != nil {
			r.log.WithError(err).Warn("system prompt save failed")
		}
		r.log.WithField("chat_id", chatID).Info("system prompt updated")
		return Action{Reply: replyPromptUpdated}, true
	}
	return Action{}, false
}

func (r *Reducer) reduceChat(ctx context.Context, chatID string, current models.Message) (Action, error) {
	record, err := r.conversations.Get(ctx, chatID)
	if err != nil {
		return Action{}, err
	}

	var prev []models.Message
	systemPrompt := r.cfg.DefaultSystemPrompt
	if record != nil {
		prev = record.Messages
		if record.SystemPrompt != "" {
			systemPrompt = record.SystemPrompt
		}
	}

	if len(prev) > r.cfg.ChatQuota {
		r.log.WithFields(logrus.Fields{
			"chat_id": chatID,
			"turns":   len(prev),
		}).Info("chat quota exceeded")
		return Action{Reply: replyQuotaExceeded}, nil
	}

	messages := append(append([]models.Message{}, prev...), current)
	if max := r.cfg.MaxRetained(); len(messages) > max {
		r.log.WithFields(logrus.Fields{
			"chat_id": chatID,
			"from":    len(messages),
			"to":      max,
		}).Debug("trimming conversation history")
		messages = messages[len(messages)-max:]
	}

	return Action{Invocation: &Invocation{Messages: messages, SystemPrompt: systemPrompt}}, nil
}

// Commit appends the assistant reply to the invoked sequence and persists
// it with the effective system prompt, resetting the expiry window.
func (r *Reducer) Commit(ctx context.Context, chatID string, inv *Invocation, assistantText string) error {
	reply := models.NewTextMessage(models.RoleAssistant, strings.TrimLeft(assistantText, " \t\r\n"))
	messages := append(append([]models.Message{}, inv.Messages...), reply)
	return r.conversations.Save(ctx, chatID, messages, inv.SystemPrompt)
}

// ImagePrompt is the description-elicitation text for image messages: the
// chat's system-prompt override when present, else the configured default.
func (r *Reducer) ImagePrompt(ctx context.Context, chatID string) string {
	if prompt := r.effectivePrompt(ctx, chatID); prompt != r.cfg.DefaultSystemPrompt {
		return prompt
	}
	return r.cfg.ImageDescPrompt
}

func (r *Reducer) effectivePrompt(ctx context.Context, chatID string) string {
	record, _ := r.conversations.Get(ctx, chatID)
	if record != nil && record.SystemPrompt != "" {
		return record.SystemPrompt
	}
	return r.cfg.DefaultSystemPrompt
}
