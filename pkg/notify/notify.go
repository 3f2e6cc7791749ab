// Package notify delivers committed host events to observers.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "events")}
}

func (s *LogSink) Publish(ctx context.Context, events []substrate.Event) error {
	for _, ev := range events {
		args := []any{"seq", ev.Seq, "event", ev.Name, "emitter", ev.Emitter}
		for k, v := range ev.Attrs {
			args = append(args, k, v)
		}
		s.logger.InfoContext(ctx, "event", args...)
	}
	return nil
}

// MemorySink keeps every event it receives. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	events []substrate.Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, events []substrate.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// Events returns a copy of everything received so far.
func (s *MemorySink) Events() []substrate.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]substrate.Event(nil), s.events...)
}

// Named returns the received events called name.
func (s *MemorySink) Named(name string) []substrate.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []substrate.Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops everything received so far.
func (s *MemorySink) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}
