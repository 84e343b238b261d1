package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/palpalette/client/pkg/tokenstore"
)

// Backend stores session values in a single SQLite key/value table.
type Backend struct {
	db  *sql.DB
	dsn string
}

var _ tokenstore.Backend = (*Backend)(nil)

// Open opens the database at dsn and applies pending migrations.
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; serialise through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	b := &Backend{db: db, dsn: dsn}
	if err := b.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return b, nil
}

func (b *Backend) Close() error { return b.db.Close() }

// Ping verifies the database connection is still alive.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM secure_kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", mapNotFound(err)
	}
	return value, nil
}

// Apply runs the batch inside one transaction.
func (b *Backend) Apply(ctx context.Context, batch tokenstore.Batch) error {
	if batch.Empty() {
		return nil
	}

	return b.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		for key, value := range batch.Set {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO secure_kv (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, now)
			if err != nil {
				return fmt.Errorf("sqlitestore: set %q: %w", key, err)
			}
		}
		for _, key := range batch.Delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM secure_kv WHERE key = ?`, key); err != nil {
				return fmt.Errorf("sqlitestore: delete %q: %w", key, err)
			}
		}
		return nil
	})
}

// withTx executes fn within a transaction, committing on success.
func (b *Backend) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return tokenstore.ErrNotFound
	}
	return err
}
