package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// EventOutbox keeps committed events in the state database until a relay
// has delivered them, so subscribers see every event at least once even if
// the node stops between commit and delivery.
type EventOutbox struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewEventOutbox creates the outbox table next to b's state table and
// attaches the outbox to b, so every later commit schedules its events in
// the same transaction as its writes. Call it before the host runs.
func NewEventOutbox(ctx context.Context, b *SQLBackend) (*EventOutbox, error) {
	o := &EventOutbox{db: b.db, dialect: b.dialect, logger: slog.Default().With("component", "outbox")}
	valueType := "BLOB"
	if b.dialect == DialectPostgres {
		valueType = "BYTEA"
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS event_outbox (
	seq BIGINT PRIMARY KEY,
	event_json %s NOT NULL,
	scheduled_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL
);`, valueType)
	if _, err := o.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("outbox: migrate: %w", err)
	}
	b.outbox = o
	return o, nil
}

func (o *EventOutbox) placeholder(i int) string {
	if o.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// Publish schedules events in their own transaction. Events already
// scheduled are skipped. Host commits on the attached backend schedule
// events themselves; Publish serves events arriving from elsewhere.
func (o *EventOutbox) Publish(ctx context.Context, events []substrate.Event) (err error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = o.schedule(ctx, tx, events); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("outbox: commit: %w", err)
	}
	return nil
}

func (o *EventOutbox) schedule(ctx context.Context, tx *sql.Tx, events []substrate.Event) error {
	query := fmt.Sprintf(
		"INSERT INTO event_outbox (seq, event_json, scheduled_at, status) VALUES (%s, %s, %s, 'PENDING') ON CONFLICT (seq) DO NOTHING",
		o.placeholder(1), o.placeholder(2), o.placeholder(3))
	now := time.Now().UTC()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("outbox: encode event %d: %w", e.Seq, err)
		}
		if _, err := tx.ExecContext(ctx, query, int64(e.Seq), data, now); err != nil {
			return fmt.Errorf("outbox: schedule event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// GetPending returns up to limit undelivered events in sequence order.
func (o *EventOutbox) GetPending(ctx context.Context, limit int) ([]substrate.Event, error) {
	query := "SELECT seq, event_json FROM event_outbox WHERE status = 'PENDING' ORDER BY seq ASC LIMIT " + o.placeholder(1)
	rows, err := o.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	//nolint:prealloc // result count unknown from SQL query
	var events []substrate.Event
	for rows.Next() {
		var (
			seq  int64
			data []byte
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return nil, err
		}
		var e substrate.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("corrupt event JSON in outbox record %d: %w", seq, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// MarkDone marks the events with the given sequence numbers delivered.
func (o *EventOutbox) MarkDone(ctx context.Context, seqs ...uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	marks := make([]string, len(seqs))
	args := make([]any, len(seqs))
	for i, s := range seqs {
		marks[i] = o.placeholder(i + 1)
		args[i] = int64(s)
	}
	query := "UPDATE event_outbox SET status = 'DONE' WHERE seq IN (" + strings.Join(marks, ", ") + ")"
	if _, err := o.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox: mark done: %w", err)
	}
	return nil
}

// Relay delivers one batch of pending events to sink and returns how many
// were delivered. Nothing is marked done if sink fails.
func (o *EventOutbox) Relay(ctx context.Context, sink substrate.EventSink, limit int) (int, error) {
	events, err := o.GetPending(ctx, limit)
	if err != nil || len(events) == 0 {
		return 0, err
	}
	if err := sink.Publish(ctx, events); err != nil {
		return 0, fmt.Errorf("outbox: relay: %w", err)
	}
	seqs := make([]uint64, len(events))
	for i, e := range events {
		seqs[i] = e.Seq
	}
	if err := o.MarkDone(ctx, seqs...); err != nil {
		return 0, err
	}
	return len(events), nil
}

// RunRelay relays every interval until ctx is done.
func (o *EventOutbox) RunRelay(ctx context.Context, sink substrate.EventSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			n, err := o.Relay(ctx, sink, 100)
			if err != nil {
				o.logger.WarnContext(ctx, "relay failed", "error", err)
				break
			}
			if n < 100 {
				break
			}
		}
	}
}
