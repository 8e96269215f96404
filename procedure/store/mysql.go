package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[T].
//
// It uses the same two-table layout as SQLiteStore and suits shared
// deployments where several hosts inspect or resume the same runs.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from the environment or a config
// file.
type MySQLStore[T any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// NewMySQLStore connects to dsn, verifies the connection and creates the
// tables if they do not exist.
func NewMySQLStore[T any](dsn string) (*MySQLStore[T], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore[T]{db: db, now: time.Now}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return m, nil
}

func (m *MySQLStore[T]) createTables(ctx context.Context) error {
	contexts := `
		CREATE TABLE IF NOT EXISTS procedure_contexts (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			stage INT NOT NULL,
			value LONGTEXT NOT NULL,
			saved_at_ns BIGINT NOT NULL,
			INDEX idx_saved_at (saved_at_ns)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, contexts); err != nil {
		return fmt.Errorf("failed to create procedure_contexts table: %w", err)
	}

	latest := `
		CREATE TABLE IF NOT EXISTS procedure_latest (
			id TINYINT NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, latest); err != nil {
		return fmt.Errorf("failed to create procedure_latest table: %w", err)
	}
	return nil
}

func (m *MySQLStore[T]) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Save implements Store.
func (m *MySQLStore[T]) Save(ctx context.Context, name string, stage int, value T) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return m.withTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		upsert := `
			INSERT INTO procedure_contexts (name, stage, value, saved_at_ns)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				stage = VALUES(stage),
				value = VALUES(value),
				saved_at_ns = VALUES(saved_at_ns)
		`
		if _, err := tx.ExecContext(ctx, upsert, name, stage, string(data), m.now().UTC().UnixNano()); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		pointer := `
			INSERT INTO procedure_latest (id, name) VALUES (1, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name)
		`
		if _, err := tx.ExecContext(ctx, pointer, name); err != nil {
			return fmt.Errorf("failed to update latest pointer: %w", err)
		}
		return nil
	})
}

// LoadLatest implements Store.
func (m *MySQLStore[T]) LoadLatest(ctx context.Context) (T, string, error) {
	var zero T
	if err := m.checkOpen(); err != nil {
		return zero, "", err
	}

	query := `
		SELECT c.name, c.value
		FROM procedure_latest l
		JOIN procedure_contexts c ON c.name = l.name
		WHERE l.id = 1
	`
	var name, data string
	err := m.db.QueryRowContext(ctx, query).Scan(&name, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, "", ErrNotFound
	}
	if err != nil {
		return zero, "", fmt.Errorf("failed to load latest snapshot: %w", err)
	}

	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return zero, "", fmt.Errorf("failed to unmarshal snapshot %q: %w: %w", name, ErrCorrupt, err)
	}
	return value, name, nil
}

// Load implements Store.
func (m *MySQLStore[T]) Load(ctx context.Context, name string) (T, error) {
	var zero T
	if err := m.checkOpen(); err != nil {
		return zero, err
	}

	var data string
	err := m.db.QueryRowContext(ctx, "SELECT value FROM procedure_contexts WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var value T
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal snapshot %q: %w: %w", name, ErrCorrupt, err)
	}
	return value, nil
}

// List implements Store.
func (m *MySQLStore[T]) List(ctx context.Context) ([]Entry, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	query := `
		SELECT c.name, c.stage, c.saved_at_ns, COALESCE(l.name, '')
		FROM procedure_contexts c
		LEFT JOIN procedure_latest l ON l.id = 1
		ORDER BY c.saved_at_ns, c.name
	`
	return queryEntries(ctx, m.db, query)
}

// Close closes the connection pool. Calling Close multiple times is safe.
func (m *MySQLStore[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore[T]) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLStore[T]) withTransaction(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
