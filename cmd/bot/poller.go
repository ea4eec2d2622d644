package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gilbert2046/telegram-digest-bot/internal/bot"
	cmdpkg "github.com/gilbert2046/telegram-digest-bot/internal/commander"
	"github.com/gilbert2046/telegram-digest-bot/internal/control"
	"github.com/gilbert2046/telegram-digest-bot/internal/db"
)

// poller owns the update offset and the circuit breaker. Everything after
// the inbox write happens on the dispatcher.
type poller struct {
	commander   cmdpkg.Commander
	handler     *bot.Handler
	dispatcher  *bot.Dispatcher
	db          *sql.DB
	events      eventLog
	circuit     *control.CircuitBreaker
	rootID      int64
	timeout     int
	sleep       time.Duration
	dropPending bool
	logger      *zap.Logger
	now         func() time.Time
}

func (p *poller) run(ctx context.Context) error {
	defer p.dispatcher.Close()

	offset, err := db.DeriveOffset(p.db)
	if err != nil {
		return fmt.Errorf("derive offset: %w", err)
	}
	if offset == 0 && p.dropPending {
		bootstrapped, err := bootstrapOffset(ctx, p.commander)
		if err != nil {
			p.logger.Warn("bootstrap offset failed", zap.Error(err))
		} else {
			offset = bootstrapped
		}
	}

	failures := 0
	for ctx.Err() == nil {
		prev := p.circuit.State()
		if !p.circuit.Allow(p.now()) {
			_ = control.Sleep(ctx, p.circuit.RemainingCooldown(p.now()))
			continue
		}
		if prev == control.CircuitOpen && p.circuit.State() == control.CircuitHalfOpen {
			p.events.log(p.rootID, db.EventCircuitHalfOpen, map[string]any{"error_class": p.circuit.OpenedClass()})
		}

		updates, err := p.commander.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			class := classifyError(err)
			p.logger.Warn("getUpdates failed", zap.String("error_class", class), zap.Int("failures", failures), zap.Error(err))
			if p.circuit.RecordFailure(class, p.now()) {
				p.events.log(p.rootID, db.EventCircuitOpened, map[string]any{
					"error_class":      class,
					"threshold":        p.circuit.Threshold,
					"cooldown_seconds": int(p.circuit.Cooldown.Seconds()),
				})
			}
			_ = control.Sleep(ctx, p.pollBackoff(failures))
			continue
		}
		failures = 0
		if p.circuit.State() != control.CircuitClosed {
			p.events.log(p.rootID, db.EventCircuitClosed, map[string]any{"recovered": true})
		}
		p.circuit.RecordSuccess()
		if len(updates) == 0 {
			_ = control.Sleep(ctx, p.sleep)
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if err := p.accept(u); err != nil {
				if errors.Is(err, bot.ErrDispatcherClosed) {
					return nil
				}
				p.logger.Warn("accept update failed", zap.Int64("update_id", u.UpdateID), zap.Error(err))
			}
		}
	}
	return nil
}

// pollBackoff grows with consecutive poll failures and never drops below the
// configured sleep.
func (p *poller) pollBackoff(failures int) time.Duration {
	return max(p.sleep, time.Duration(control.RetryBackoffSeconds(failures))*time.Second)
}

// accept records u in the inbox and queues it for its chat. Updates already
// in the inbox are dropped so a restart never answers twice.
func (p *poller) accept(u cmdpkg.Update) error {
	msg := u.Message
	if msg == nil {
		return nil
	}
	kind, text := messageKind(msg)
	if kind == "" {
		return nil
	}
	fresh, err := db.Enqueue(p.db, u.UpdateID, msg.Chat.ID, kind, text, msg.Date)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if !fresh {
		p.logger.Debug("duplicate update", zap.Int64("update_id", u.UpdateID))
		return nil
	}

	updateEventID := p.events.log(p.rootID, db.EventUpdateReceived, map[string]any{
		"update_id": u.UpdateID,
		"chat_id":   msg.Chat.ID,
		"kind":      kind,
		"text":      truncate(text, 200),
	})
	return p.dispatcher.Submit(msg.Chat.ID, func(ctx context.Context) {
		sink := func(eventType string, payload map[string]any) {
			p.events.log(updateEventID, eventType, payload)
		}
		if err := p.handler.Handle(ctx, msg, sink); err != nil {
			p.logger.Warn("update failed",
				zap.Int64("update_id", u.UpdateID),
				zap.Int64("chat_id", msg.Chat.ID),
				zap.Error(err),
			)
			if err := db.MarkFailed(p.db, u.UpdateID, truncate(err.Error(), 1000)); err != nil {
				p.logger.Warn("mark failed", zap.Int64("update_id", u.UpdateID), zap.Error(err))
			}
			return
		}
		if err := db.MarkDone(p.db, u.UpdateID); err != nil {
			p.logger.Warn("mark done", zap.Int64("update_id", u.UpdateID), zap.Error(err))
		}
	})
}

// messageKind reports "photo" or "text" with the text worth recording, or
// an empty kind for messages the bot ignores.
func messageKind(msg *cmdpkg.Message) (kind, text string) {
	if len(msg.Photo) > 0 {
		if msg.Caption != nil {
			text = *msg.Caption
		}
		return "photo", text
	}
	if msg.Text == nil || strings.TrimSpace(*msg.Text) == "" {
		return "", ""
	}
	return "text", *msg.Text
}

// bootstrapOffset skips everything queued before the first start.
func bootstrapOffset(ctx context.Context, c cmdpkg.Commander) (int64, error) {
	updates, err := c.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(updates) == 0 {
		return 0, nil
	}
	return updates[len(updates)-1].UpdateID + 1, nil
}

func classifyError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, "class="); ok {
		if f := strings.Fields(rest); len(f) > 0 {
			return f[0]
		}
	}
	switch {
	case strings.Contains(msg, "telegram"), strings.Contains(msg, "commander"):
		return "command_source_api"
	case strings.Contains(msg, "sqlite"), strings.Contains(msg, "database"):
		return "db"
	default:
		return "unknown"
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
