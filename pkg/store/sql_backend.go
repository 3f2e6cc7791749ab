// Package store provides durable substrate backends.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Dialect selects placeholder and column syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLBackend stores substrate state in a single key/value table. Each host
// call is committed in one SQL transaction, together with its events once an
// EventOutbox is attached.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	outbox  *EventOutbox
}

// NewSQLBackend wraps db. Call Init before first use.
func NewSQLBackend(db *sql.DB, dialect Dialect) (*SQLBackend, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q", dialect)
	}
	return &SQLBackend{db: db, dialect: dialect}, nil
}

// Open opens the database for dialect and creates the state table.
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQLBackend, error) {
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// sqlite allows one writer
		db.SetMaxOpenConns(1)
	}
	b, err := NewSQLBackend(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := b.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// Init creates the state table.
func (b *SQLBackend) Init(ctx context.Context) error {
	valueType := "BLOB"
	if b.dialect == DialectPostgres {
		valueType = "BYTEA"
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS settlement_state (
	key TEXT PRIMARY KEY,
	value %s NOT NULL
);`, valueType)
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (b *SQLBackend) placeholders() (string, string) {
	if b.dialect == DialectPostgres {
		return "$1", "$2"
	}
	return "?", "?"
}

// Get implements substrate.Backend.
func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	p1, _ := b.placeholders()
	var value []byte
	err := b.db.QueryRowContext(ctx, "SELECT value FROM settlement_state WHERE key = "+p1, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return value, true, nil
}

// Commit implements substrate.Backend.
func (b *SQLBackend) Commit(ctx context.Context, batch []substrate.Write) error {
	return b.commit(ctx, batch, nil)
}

// CommitEvents implements substrate.EventBackend. The events are scheduled
// in the outbox inside the state transaction; without an outbox they are
// not recorded.
func (b *SQLBackend) CommitEvents(ctx context.Context, batch []substrate.Write, events []substrate.Event) error {
	return b.commit(ctx, batch, events)
}

func (b *SQLBackend) commit(ctx context.Context, batch []substrate.Write, events []substrate.Event) (err error) {
	p1, p2 := b.placeholders()
	upsert := fmt.Sprintf(
		"INSERT INTO settlement_state (key, value) VALUES (%s, %s) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		p1, p2)
	del := "DELETE FROM settlement_state WHERE key = " + p1

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, w := range batch {
		if w.Delete {
			if _, err = tx.ExecContext(ctx, del, w.Key); err != nil {
				return fmt.Errorf("store: delete %s: %w", w.Key, err)
			}
			continue
		}
		if _, err = tx.ExecContext(ctx, upsert, w.Key, w.Value); err != nil {
			return fmt.Errorf("store: put %s: %w", w.Key, err)
		}
	}
	if b.outbox != nil && len(events) > 0 {
		if err = b.outbox.schedule(ctx, tx, events); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (b *SQLBackend) Close() error { return b.db.Close() }
