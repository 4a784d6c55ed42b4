package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/saulrh/living-room-bot/pkg/logx"
)

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", d)
}

func TestGoRestartRestartsAfterError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))
	defer s.Cancel()

	var runs int64
	s.GoRestart("loop", func(ctx context.Context) error {
		n := atomic.AddInt64(&runs, 1)
		if n == 1 {
			return errors.New("transient")
		}
		return nil // clean exit stops the loop
	})

	// min backoff is 250ms plus jitter; give it room
	waitFor(t, 3*time.Second, func() bool { return atomic.LoadInt64(&runs) >= 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := atomic.LoadInt64(&runs); got != 2 {
		t.Fatalf("runs = %d, want 2", got)
	}
}

func TestGoRestartRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))
	defer s.Cancel()

	var runs int64
	s.GoRestart("loop", func(ctx context.Context) error {
		if atomic.AddInt64(&runs, 1) == 1 {
			panic("boom")
		}
		return nil
	})

	waitFor(t, 3*time.Second, func() bool { return atomic.LoadInt64(&runs) >= 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))

	started := make(chan struct{})
	s.GoRestart("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoCancelOnFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	sentinel := errors.New("fatal")
	s.Go("failing", func(ctx context.Context) error { return sentinel })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context not canceled after goroutine error")
	}
	if err := s.Err(); !errors.Is(err, sentinel) {
		t.Fatalf("Err() = %v, want wrapped %v", err, sentinel)
	}
}
