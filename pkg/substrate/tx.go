package substrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/protoerr"
)

// ErrReadOnly is returned when a read-only call attempts a write.
var ErrReadOnly = errors.New("substrate: write attempted in read-only call")

type txState struct {
	ctx    context.Context
	host   *Host
	now    time.Time
	writes map[string]*Write
	order  []string
	events []Event
	hooks  []func()
}

// Tx is the context of one call. It is only valid inside the function passed
// to Host.Execute or Host.View.
type Tx struct {
	s        *txState
	caller   Address
	readOnly bool
}

func (tx *Tx) Context() context.Context { return tx.s.ctx }

// Caller is the account that submitted the call.
func (tx *Tx) Caller() Address { return tx.caller }

// Now is the call time. It is fixed for the whole call.
func (tx *Tx) Now() time.Time { return tx.s.now }

// IsReadOnly reports whether writes are rejected.
func (tx *Tx) IsReadOnly() bool { return tx.readOnly }

// ReadOnly returns a view of the same call that rejects writes and drops
// events. Arbiters are always invoked through it.
func (tx *Tx) ReadOnly() *Tx {
	return &Tx{s: tx.s, caller: tx.caller, readOnly: true}
}

// Resolve returns the component deployed at addr.
func (tx *Tx) Resolve(addr Address) (Component, bool) {
	return tx.s.host.Resolve(addr)
}

// Get reads key, observing this call's uncommitted writes.
func (tx *Tx) Get(key string) ([]byte, bool, error) {
	if w, ok := tx.s.writes[key]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return append([]byte(nil), w.Value...), true, nil
	}
	return tx.s.host.backend.Get(tx.s.ctx, key)
}

// Put buffers a write of key.
func (tx *Tx) Put(key string, value []byte) error {
	return tx.write(Write{Key: key, Value: append([]byte(nil), value...)})
}

// Delete buffers a removal of key.
func (tx *Tx) Delete(key string) error {
	return tx.write(Write{Key: key, Delete: true})
}

func (tx *Tx) write(w Write) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if _, seen := tx.s.writes[w.Key]; !seen {
		tx.s.order = append(tx.s.order, w.Key)
	}
	tx.s.writes[w.Key] = &w
	return nil
}

// GetJSON decodes the value at key into v. It reports false when absent.
func (tx *Tx) GetJSON(key string, v any) (bool, error) {
	b, ok, err := tx.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, decodeJSON(b, v)
}

// PutJSON encodes v and writes it at key.
func (tx *Tx) PutJSON(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("substrate: encode %s: %w", key, err)
	}
	return tx.Put(key, b)
}

// Next increments the counter at key and returns the new value.
func (tx *Tx) Next(key string) (uint64, error) {
	n, err := tx.counter(key)
	if err != nil {
		return 0, err
	}
	n++
	if err := tx.Put(key, []byte(strconv.FormatUint(n, 10))); err != nil {
		return 0, err
	}
	return n, nil
}

func (tx *Tx) counter(key string) (uint64, error) {
	b, ok, err := tx.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("substrate: corrupt counter %s: %w", key, err)
	}
	return n, nil
}

// Emit buffers an event. Events emitted through a read-only view are dropped.
func (tx *Tx) Emit(emitter Address, name string, attrs map[string]string) {
	if tx.readOnly {
		tx.s.host.logger.WarnContext(tx.s.ctx, "event dropped in read-only call", "event", name, "emitter", emitter)
		return
	}
	tx.s.events = append(tx.s.events, Event{
		Name:    name,
		Emitter: emitter,
		At:      tx.s.now,
		Attrs:   attrs,
	})
}

// OnCommit runs fn after the call has committed. Aborted calls never run it.
// fn must not call back into the host.
func (tx *Tx) OnCommit(fn func()) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.s.hooks = append(tx.s.hooks, fn)
	return nil
}

// Lookup resolves addr to a component of type T.
func Lookup[T any](tx *Tx, addr Address) (T, error) {
	var zero T
	c, ok := tx.Resolve(addr)
	if !ok {
		return zero, protoerr.New(protoerr.KindNotFound, "substrate.Lookup", "no component at %s", addr)
	}
	t, ok := c.(T)
	if !ok {
		return zero, protoerr.New(protoerr.KindNotFound, "substrate.Lookup", "component at %s is %T", addr, c)
	}
	return t, nil
}
