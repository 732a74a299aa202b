// Package notify turns disruption records into chat messages and pushes
// them to individual subscribers.
package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	kit "ensenbot/internal/transport"
	logx "ensenbot/pkg/logx"
)

// Disruption is one route's alert, already resolved to a display name.
type Disruption struct {
	RouteID   string
	RouteName string
	Text      string
}

type Config struct {
	// RatePerSec caps outgoing sends across the whole fan-out.
	RatePerSec float64
	Burst      int
	// MaxAttempts bounds retries per recipient, including the first try.
	MaxAttempts int
	RetryDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

type Notifier struct {
	cfg     Config
	sender  kit.Sender
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, sender kit.Sender, log logx.Logger) *Notifier {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
}

// FormatCard renders the alert message for one disruption. HTML parse mode.
func FormatCard(d Disruption) string {
	name := d.RouteName
	if strings.TrimSpace(name) == "" {
		name = d.RouteID
	}
	var b strings.Builder
	b.WriteString("\U0001F6A8 <b>")
	b.WriteString(html.EscapeString(name))
	b.WriteString("</b>\n")
	b.WriteString(html.EscapeString(strings.TrimSpace(d.Text)))
	return b.String()
}

// Notify pushes one disruption to one recipient. The recipient id is the
// string form stored in the subscription table; anything that does not
// parse as a chat id counts as a delivery failure for that recipient.
func (n *Notifier) Notify(ctx context.Context, recipientID string, d Disruption) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipientID), 10, 64)
	if err != nil {
		return fmt.Errorf("recipient %q: not a chat id", recipientID)
	}

	text := FormatCard(d)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	target := kit.ChatTarget{ChatID: chatID}

	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		_, lastErr = n.sender.SendText(ctx, target, text, opt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < n.cfg.MaxAttempts {
			n.log.Debug("send retry",
				logx.Int64("chat_id", chatID),
				logx.Int("attempt", attempt),
				logx.Err(lastErr))
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(n.cfg.RetryDelay):
			}
		}
	}
	return fmt.Errorf("send to %d failed after %d attempts: %w", chatID, n.cfg.MaxAttempts, lastErr)
}
