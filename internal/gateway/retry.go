package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aram-Development/Nationdex/internal/metrics"
)

// Retrying wraps a Messenger with bounded retry and backoff. Outbound
// sends are fire-and-forget from the caller's point of view: failures
// are logged, never fatal, and give up after Attempts tries.
type Retrying struct {
	inner    Messenger
	attempts int
	backoff  time.Duration
	log      *slog.Logger
	met      *metrics.Metrics
}

func NewRetrying(inner Messenger, attempts int, backoff time.Duration, log *slog.Logger, met *metrics.Metrics) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Retrying{inner: inner, attempts: attempts, backoff: backoff, log: log, met: met}
}

func (r *Retrying) SendMessage(ctx context.Context, channelId, content string) (string, error) {
	var msgId string
	err := r.retry(ctx, "send message", channelId, func() error {
		var err error
		msgId, err = r.inner.SendMessage(ctx, channelId, content)
		return err
	})
	return msgId, err
}

func (r *Retrying) EditMessage(ctx context.Context, channelId, messageId, content string) error {
	return r.retry(ctx, "edit message", channelId, func() error {
		return r.inner.EditMessage(ctx, channelId, messageId, content)
	})
}

func (r *Retrying) AddReaction(ctx context.Context, channelId, messageId, emoji string) error {
	return r.retry(ctx, "add reaction", channelId, func() error {
		return r.inner.AddReaction(ctx, channelId, messageId, emoji)
	})
}

func (r *Retrying) retry(ctx context.Context, op, channelId string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		r.log.Warn("outbound call failed",
			"op", op, "channel", channelId, "attempt", attempt, "err", lastErr)

		if attempt == r.attempts {
			break
		}
		r.met.MessengerRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, r.attempts, lastErr)
}

var _ Messenger = (*Retrying)(nil)
