package smpp

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Connection is the slice of a Session the supervisor needs.
type Connection interface {
	Done() <-chan struct{}
	Close() error
}

// ConnectFunc dials and binds a fresh connection.
type ConnectFunc func(ctx context.Context) (Connection, error)

// EventType identifies a connection-state transition.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventBindFailed         EventType = "bind_failed"
	EventReconnectExhausted EventType = "reconnect_exhausted"
)

// Event is surfaced to the operator-facing layers.
type Event struct {
	Type     EventType
	Attempts int
	Err      error
}

// SupervisorConfig bounds the reconnect policy.
type SupervisorConfig struct {
	ReconnectInterval time.Duration
	MaxAttempts       int
}

// Supervisor keeps exactly one connection alive across transient failures.
// At most one connect attempt is ever in flight; the attempt counter resets
// on every successful bind and, once MaxAttempts consecutive attempts have
// failed, the supervisor emits EventReconnectExhausted exactly once and
// stops. Recovery from that state is external (process restart).
type Supervisor struct {
	connect   ConnectFunc
	cfg       SupervisorConfig
	events    chan Event
	attempts  atomic.Int64
	exhausted atomic.Bool
}

func NewSupervisor(connect ConnectFunc, cfg SupervisorConfig) *Supervisor {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Supervisor{
		connect: connect,
		cfg:     cfg,
		events:  make(chan Event, 16),
	}
}

// Events delivers state transitions. The channel is buffered; a slow
// consumer loses nothing fatal because the terminal event is also the
// supervisor's return value.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Attempts returns the current consecutive-failure count.
func (s *Supervisor) Attempts() int {
	return int(s.attempts.Load())
}

// Exhausted reports whether the supervisor gave up on reconnecting. The
// state is terminal; only a process restart clears it.
func (s *Supervisor) Exhausted() bool {
	return s.exhausted.Load()
}

// Run blocks until the context is cancelled (returns nil) or reconnect
// attempts are exhausted (returns ErrReconnectExhausted). The events
// channel is closed when Run returns.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.events)
	attempts := 0
	for {
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempts++
			s.attempts.Store(int64(attempts))
			slog.Warn("SMPP connect attempt failed",
				slog.Int("attempt", attempts),
				slog.Int("max_attempts", s.cfg.MaxAttempts),
				slog.Any("error", err),
			)
			s.emit(Event{Type: EventBindFailed, Attempts: attempts, Err: err})

			if attempts >= s.cfg.MaxAttempts {
				s.exhausted.Store(true)
				slog.Error("SMPP reconnect attempts exhausted, manual restart required",
					slog.Int("attempts", attempts))
				s.emit(Event{Type: EventReconnectExhausted, Attempts: attempts, Err: err})
				return ErrReconnectExhausted
			}
			if !s.sleep(ctx) {
				return nil
			}
			continue
		}

		attempts = 0
		s.attempts.Store(0)
		s.emit(Event{Type: EventConnected})

		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil
		case <-conn.Done():
		}

		slog.Warn("SMPP session lost, scheduling reconnect",
			slog.Duration("interval", s.cfg.ReconnectInterval))
		s.emit(Event{Type: EventDisconnected})
		if !s.sleep(ctx) {
			return nil
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context) bool {
	select {
	case <-time.After(s.cfg.ReconnectInterval):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("supervisor event dropped, consumer too slow",
			slog.String("event", string(ev.Type)))
	}
}
