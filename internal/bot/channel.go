// Package bot is the Telegram-facing layer: the notification channel the
// engine sends through and the dialog router that handles onboarding,
// callbacks, and manual qaza logging.
package bot

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"qazabot/internal/prayer"
	kit "qazabot/internal/transport"
	logx "qazabot/pkg/logx"
	"qazabot/pkg/tgui"
)

// CallbackScope prefixes every prompt button's callback data.
const CallbackScope = "qaza"

// Channel adapts the transport layer to the engine's notification interface.
// A single global limiter keeps sends under Telegram's flood limits across
// all user sessions.
type Channel struct {
	ad      kit.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func NewChannel(ad kit.Adapter, log logx.Logger) *Channel {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{
		ad: ad,
		// Telegram allows ~30 messages/s globally; stay under it.
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		log:     log,
	}
}

func (c *Channel) Send(ctx context.Context, userID int64, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.ad.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, nil)
	return err
}

// Prompt sends the two-button "did you pray?" message. The payload carries
// the target prayer and day so the answer can be validated against the open
// warning.
func (c *Channel) Prompt(ctx context.Context, userID int64, target prayer.Prayer, day string) (kit.MessageRef, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	payload := string(target) + "|" + day
	kb := tgui.NewInline().
		Row(
			tgui.Btn("🙏 Prayed", tgui.Data(CallbackScope, "prayed", payload)),
			tgui.Btn("😔 Missed", tgui.Data(CallbackScope, "missed", payload)),
		)
	text := fmt.Sprintf("Did you pray %s? The window closes soon.", target)
	return c.ad.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, &kit.SendOptions{
		ReplyMarkupAdapter: kb.Markup(),
	})
}

func (c *Channel) Delete(ctx context.Context, ref kit.MessageRef) error {
	if ref.IsZero() {
		return nil
	}
	return c.ad.DeleteMessage(ctx, ref)
}
