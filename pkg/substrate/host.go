// Package substrate is the execution host the settlement protocol runs on.
//
// A Host gives every public entry point the guarantees the protocol relies on:
//   - calls are totally ordered (one host-wide lock, no intra-call suspension),
//   - a call's writes are buffered and committed as one atomic batch,
//   - any error unwinds every effect of the call, including asset moves,
//   - events are published only for committed calls, and an EventBackend
//     records them in the same batch as the writes.
//
// Components (registries, obligations, arbiters, asset ledgers) keep all of
// their mutable state in the host through a *Tx and are looked up by Address.
package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Address identifies an account or a deployed component.
type Address string

func (a Address) String() string { return string(a) }

// IsZero reports whether a is the empty address.
func (a Address) IsZero() bool { return a == "" }

// Component is anything deployed on a Host.
type Component interface {
	Address() Address
}

// Tracker instruments host calls. *observability.Provider implements it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

const eventSeqKey = "host/event_seq"

// Host serializes calls and owns the committed state.
type Host struct {
	mu      sync.Mutex // serializes calls
	backend Backend
	clock   func() time.Time
	logger  *slog.Logger
	tracker Tracker
	sinks   []EventSink

	compMu     sync.RWMutex
	components map[Address]Component
	identities map[Address]*Identity
}

// Option configures a Host.
type Option func(*Host)

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(h *Host) { h.clock = clock }
}

// WithLogger sets the host logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithTracker instruments every call.
func WithTracker(t Tracker) Option {
	return func(h *Host) { h.tracker = t }
}

// WithSinks adds event sinks.
func WithSinks(sinks ...EventSink) Option {
	return func(h *Host) { h.sinks = append(h.sinks, sinks...) }
}

// NewHost creates a host over backend.
func NewHost(backend Backend, opts ...Option) *Host {
	h := &Host{
		backend:    backend,
		clock:      time.Now,
		logger:     slog.Default().With("component", "substrate"),
		components: make(map[Address]Component),
		identities: make(map[Address]*Identity),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddSink registers an event sink after construction.
func (h *Host) AddSink(s EventSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Deploy registers c at its address. A component implementing
// IdentityBinder receives the identity of that address.
func (h *Host) Deploy(c Component) error {
	if c.Address().IsZero() {
		return fmt.Errorf("substrate: component has empty address")
	}
	h.compMu.Lock()
	defer h.compMu.Unlock()
	if _, exists := h.components[c.Address()]; exists {
		return fmt.Errorf("substrate: address %s already deployed", c.Address())
	}
	h.components[c.Address()] = c
	if b, ok := c.(IdentityBinder); ok {
		id := &Identity{addr: c.Address()}
		h.identities[id.addr] = id
		b.BindIdentity(id)
	}
	return nil
}

// Resolve returns the component deployed at addr.
func (h *Host) Resolve(addr Address) (Component, bool) {
	h.compMu.RLock()
	defer h.compMu.RUnlock()
	c, ok := h.components[addr]
	return c, ok
}

// Now returns the host clock reading.
func (h *Host) Now() time.Time {
	return h.clock().UTC()
}

// Execute runs fn as one indivisible call on behalf of caller. Writes and
// events are committed only when fn returns nil.
func (h *Host) Execute(ctx context.Context, caller Address, op string, fn func(*Tx) error) error {
	done := func(error) {}
	if h.tracker != nil {
		ctx, done = h.tracker.TrackOperation(ctx, op,
			attribute.String("settle.op", op),
			attribute.String("settle.caller", string(caller)),
		)
	}

	events, err := h.run(ctx, caller, false, fn)
	done(err)
	if err != nil {
		h.logger.DebugContext(ctx, "call aborted", "op", op, "caller", caller, "error", err)
		return err
	}
	h.logger.DebugContext(ctx, "call committed", "op", op, "caller", caller, "events", len(events))
	h.publish(ctx, events)
	return nil
}

// View runs fn read-only against committed state.
func (h *Host) View(ctx context.Context, fn func(*Tx) error) error {
	_, err := h.run(ctx, "", true, fn)
	return err
}

func (h *Host) run(ctx context.Context, caller Address, readOnly bool, fn func(*Tx) error) ([]Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx := &Tx{
		s: &txState{
			ctx:    ctx,
			host:   h,
			now:    h.Now(),
			writes: make(map[string]*Write),
		},
		caller:   caller,
		readOnly: readOnly,
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if readOnly {
		return nil, nil
	}
	events, err := h.commit(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, fn := range tx.s.hooks {
		fn()
	}
	return events, nil
}

func (h *Host) commit(ctx context.Context, tx *Tx) ([]Event, error) {
	events := tx.s.events
	if len(events) > 0 {
		seq, err := tx.counter(eventSeqKey)
		if err != nil {
			return nil, err
		}
		for i := range events {
			seq++
			events[i].Seq = seq
		}
		if err := tx.Put(eventSeqKey, []byte(strconv.FormatUint(seq, 10))); err != nil {
			return nil, err
		}
	}

	if len(tx.s.order) == 0 {
		return events, nil
	}
	batch := make([]Write, 0, len(tx.s.order))
	for _, key := range tx.s.order {
		batch = append(batch, *tx.s.writes[key])
	}
	var err error
	if eb, ok := h.backend.(EventBackend); ok && len(events) > 0 {
		err = eb.CommitEvents(ctx, batch, events)
	} else {
		err = h.backend.Commit(ctx, batch)
	}
	if err != nil {
		return nil, fmt.Errorf("substrate: commit failed: %w", err)
	}
	return events, nil
}

func (h *Host) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	sinks := append([]EventSink(nil), h.sinks...)
	h.mu.Unlock()
	for _, s := range sinks {
		if err := s.Publish(ctx, events); err != nil {
			h.logger.WarnContext(ctx, "event sink publish failed", "error", err, "events", len(events))
		}
	}
}

// Call runs fn like Execute and returns its value.
func Call[T any](ctx context.Context, h *Host, caller Address, op string, fn func(*Tx) (T, error)) (T, error) {
	var out T
	err := h.Execute(ctx, caller, op, func(tx *Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Query runs fn like View and returns its value.
func Query[T any](ctx context.Context, h *Host, fn func(*Tx) (T, error)) (T, error) {
	var out T
	err := h.View(ctx, func(tx *Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// decodeJSON is shared by Tx.GetJSON and tests.
func decodeJSON(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("substrate: corrupt state value: %w", err)
	}
	return nil
}
