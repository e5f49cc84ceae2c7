package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyMessenger struct {
	failures int
	calls    int
}

func (f *flakyMessenger) SendMessage(ctx context.Context, channelId, content string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient")
	}
	return "msg-1", nil
}

func (f *flakyMessenger) EditMessage(ctx context.Context, channelId, messageId, content string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func (f *flakyMessenger) AddReaction(ctx context.Context, channelId, messageId, emoji string) error {
	return nil
}

func TestRetryingRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyMessenger{failures: 2}
	r := NewRetrying(inner, 3, time.Millisecond, nil, nil)

	id, err := r.SendMessage(context.Background(), "chan", "hello")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("message id %q, want msg-1", id)
	}
	if inner.calls != 3 {
		t.Fatalf("made %d calls, want 3", inner.calls)
	}
}

func TestRetryingGivesUpAfterAttempts(t *testing.T) {
	inner := &flakyMessenger{failures: 100}
	r := NewRetrying(inner, 3, time.Millisecond, nil, nil)

	_, err := r.SendMessage(context.Background(), "chan", "hello")
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
	if inner.calls != 3 {
		t.Fatalf("made %d calls, want 3", inner.calls)
	}
}

func TestRetryingStopsOnCancelledContext(t *testing.T) {
	inner := &flakyMessenger{failures: 100}
	r := NewRetrying(inner, 5, 50*time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.SendMessage(ctx, "chan", "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if inner.calls != 1 {
		t.Fatalf("made %d calls after cancel, want 1", inner.calls)
	}
}

func TestRetryingSucceedsFirstTry(t *testing.T) {
	inner := &flakyMessenger{}
	r := NewRetrying(inner, 3, time.Millisecond, nil, nil)

	if err := r.EditMessage(context.Background(), "chan", "m1", "edited"); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("made %d calls, want 1", inner.calls)
	}
}
