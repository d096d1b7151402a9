package smpp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	done   chan struct{}
	closed atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
	return nil
}

func (c *fakeConn) lose() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

func fastSupervisorConfig(maxAttempts int) SupervisorConfig {
	return SupervisorConfig{
		ReconnectInterval: time.Millisecond,
		MaxAttempts:       maxAttempts,
	}
}

func collectEvents(t *testing.T, events <-chan Event, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events channel closed before %q", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event within %v", want, timeout)
		}
	}
}

func TestSupervisor_ExhaustsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var connects atomic.Int64
	connect := func(ctx context.Context) (Connection, error) {
		connects.Add(1)
		return nil, errors.New("bind rejected")
	}

	sup := NewSupervisor(connect, fastSupervisorConfig(5))

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("Run() = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not terminate")
	}

	if n := connects.Load(); n != 5 {
		t.Fatalf("connect called %d times, want exactly 5", n)
	}

	// The terminal event must have been emitted exactly once.
	exhausted := 0
	for ev := range sup.Events() {
		if ev.Type == EventReconnectExhausted {
			exhausted++
		}
	}
	if exhausted != 1 {
		t.Fatalf("saw %d exhausted events, want 1", exhausted)
	}
	if !sup.Exhausted() {
		t.Fatal("Exhausted() = false after terminal failure")
	}

	// No further connects after the terminal state.
	time.Sleep(20 * time.Millisecond)
	if n := connects.Load(); n != 5 {
		t.Fatalf("connect called %d times after exhaustion, want 5", n)
	}
}

func TestSupervisor_ReconnectsAfterConnectionLoss(t *testing.T) {
	t.Parallel()

	conns := make(chan *fakeConn, 4)
	connect := func(ctx context.Context) (Connection, error) {
		c := newFakeConn()
		conns <- c
		return c, nil
	}

	sup := NewSupervisor(connect, fastSupervisorConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	first := <-conns
	collectEvents(t, sup.Events(), EventConnected, time.Second)

	first.lose()
	collectEvents(t, sup.Events(), EventDisconnected, time.Second)

	second := <-conns
	collectEvents(t, sup.Events(), EventConnected, time.Second)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	if !second.closed.Load() {
		t.Fatal("active connection not closed on shutdown")
	}
}

func TestSupervisor_FailureCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	// Fail twice, succeed, then fail repeatedly. With MaxAttempts 3 the
	// run must only exhaust after three consecutive post-success failures.
	var calls atomic.Int64
	var live *fakeConn
	connect := func(ctx context.Context) (Connection, error) {
		n := calls.Add(1)
		if n <= 2 || n > 3 {
			return nil, errors.New("connect refused")
		}
		live = newFakeConn()
		return live, nil
	}

	sup := NewSupervisor(connect, fastSupervisorConfig(3))

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background()) }()

	collectEvents(t, sup.Events(), EventConnected, time.Second)
	if got := sup.Attempts(); got != 0 {
		t.Fatalf("Attempts() = %d after success, want 0", got)
	}
	live.lose()

	select {
	case err := <-done:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Fatalf("Run() = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not terminate")
	}

	// 2 failures + 1 success + 3 consecutive failures.
	if n := calls.Load(); n != 6 {
		t.Fatalf("connect called %d times, want 6", n)
	}
}
