package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/redis"
	_ "modernc.org/sqlite"
)

// Journal durably stores the ordered list of pending operations.
// Save replaces the whole list so the stored order always matches memory.
type Journal interface {
	Load(ctx context.Context) ([]models.Operation, error)
	Save(ctx context.Context, ops []models.Operation) error
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS offline_ops (
  position    INTEGER PRIMARY KEY,
  id          TEXT NOT NULL UNIQUE,
  kind        TEXT NOT NULL,
  target      TEXT NOT NULL,
  payload     TEXT NOT NULL,
  enqueued_at TEXT NOT NULL,
  attempts    INTEGER NOT NULL DEFAULT 0
);`

// SQLiteJournal keeps the queue in a local SQLite file so it survives
// restarts while the central store is unreachable
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLiteJournal opens (creating if needed) the journal database at path
func OpenSQLiteJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		path,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}

	j, err := NewSQLiteJournal(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewSQLiteJournal wraps an open database and ensures the table exists
func NewSQLiteJournal(ctx context.Context, db *sql.DB) (*SQLiteJournal, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("ensure offline_ops: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Load reads the operations in queue order
func (j *SQLiteJournal) Load(ctx context.Context) ([]models.Operation, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, kind, target, payload, enqueued_at, attempts
		FROM offline_ops
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query offline_ops: %w", err)
	}
	defer rows.Close()

	var ops []models.Operation
	for rows.Next() {
		var (
			op         models.Operation
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&op.ID, &op.Kind, &op.Target, &payload, &enqueuedAt, &op.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan offline op: %w", err)
		}
		op.Payload = json.RawMessage(payload)
		op.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("bad enqueued_at for %s: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Save rewrites the table in one transaction
func (j *SQLiteJournal) Save(ctx context.Context, ops []models.Operation) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offline_ops`); err != nil {
		return fmt.Errorf("failed to clear offline_ops: %w", err)
	}
	for i, op := range ops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offline_ops (position, id, kind, target, payload, enqueued_at, attempts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			i, op.ID, string(op.Kind), op.Target, string(op.Payload),
			op.EnqueuedAt.UTC().Format(time.RFC3339Nano), op.Attempts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert offline op %s: %w", op.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}
	return nil
}

// Close closes the database
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// RedisJournal keeps the queue as a Redis list of JSON operations
type RedisJournal struct {
	client *redis.Client
	key    string
}

// NewRedisJournal creates a Redis-backed journal under key
func NewRedisJournal(client *redis.Client, key string) *RedisJournal {
	return &RedisJournal{client: client, key: key}
}

// Load reads the list in order
func (j *RedisJournal) Load(ctx context.Context) ([]models.Operation, error) {
	vals, err := j.client.ListRange(ctx, j.key)
	if err != nil {
		return nil, err
	}
	ops := make([]models.Operation, 0, len(vals))
	for _, v := range vals {
		var op models.Operation
		if err := json.Unmarshal([]byte(v), &op); err != nil {
			return nil, fmt.Errorf("corrupt journal entry in %s: %w", j.key, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Save rewrites the list inside MULTI/EXEC
func (j *RedisJournal) Save(ctx context.Context, ops []models.Operation) error {
	vals := make([]string, len(ops))
	for i, op := range ops {
		b, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to encode op %s: %w", op.ID, err)
		}
		vals[i] = string(b)
	}
	return j.client.ReplaceList(ctx, j.key, vals)
}
