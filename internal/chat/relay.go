package chat

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/larkbridge/larkbridge-backend/internal/lark"
)

// Relay adapts streaming callbacks into in-place edits of the placeholder
// card. Each callback carries the full transcript, so every edit is an
// idempotent replacement; edit frequency is already bounded upstream by the
// backend's callback throttle.
type Relay struct {
	ctx       context.Context
	messenger lark.Messenger
	messageID string
	log       *logrus.Logger
}

// NewRelay creates a relay editing the placeholder messageID.
func NewRelay(ctx context.Context, messenger lark.Messenger, messageID string, log *logrus.Logger) *Relay {
	return &Relay{ctx: ctx, messenger: messenger, messageID: messageID, log: log}
}

// OnPartial re-renders the card with the transcript so far. Non-final
// renders keep the thinking footer; the final render carries the endNote
// and completion time.
func (r *Relay) OnPartial(text, endNote string, final bool) error {
	card := lark.BuildCard("Result", lark.CurrentTime(), text, endNote, final, true)
	if err := r.messenger.PatchCard(r.ctx, r.messageID, card); err != nil {
		// A dropped intermediate edit is cosmetic; the next callback
		// supersedes it. Only a failed final edit matters to the caller.
		if final {
			return err
		}
		r.log.WithError(err).WithField("message_id", r.messageID).Warn("placeholder edit failed")
	}
	return nil
}
