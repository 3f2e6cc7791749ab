package substrate

import (
	"context"
	"time"
)

// Event is a notification emitted by a component during a call. Events are
// buffered with the call's writes and only published once the call commits.
type Event struct {
	Seq     uint64            `json:"seq"`
	Name    string            `json:"name"`
	Emitter Address           `json:"emitter"`
	At      time.Time         `json:"at"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Attr returns the named attribute or "".
func (e Event) Attr(key string) string {
	return e.Attrs[key]
}

// EventSink receives committed events in commit order.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}
