package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[T].
//
// Snapshots live in a single-file database, which suits single-host runs that
// want a queryable history without running a server. The database is opened
// in WAL mode and every save updates the snapshot row and the latest pointer
// in one transaction.
//
// Schema:
//   - procedure_contexts: one row per snapshot name
//   - procedure_latest: a single row naming the current snapshot
type SQLiteStore[T any] struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
	now    func() time.Time
}

// NewSQLiteStore opens or creates the database at path. Use ":memory:" for a
// throwaway database.
//
// Example:
//
//	st, err := store.NewSQLiteStore[procedure.Context[Project]]("./work/contexts.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[T any](path string) (*SQLiteStore[T], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLiteStore[T]{db: db, path: path, now: time.Now}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore[T]) createTables(ctx context.Context) error {
	contexts := `
		CREATE TABLE IF NOT EXISTS procedure_contexts (
			name TEXT NOT NULL PRIMARY KEY,
			stage INTEGER NOT NULL,
			value TEXT NOT NULL,
			saved_at_ns INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, contexts); err != nil {
		return fmt.Errorf("failed to create procedure_contexts table: %w", err)
	}

	latest := `
		CREATE TABLE IF NOT EXISTS procedure_latest (
			id INTEGER NOT NULL PRIMARY KEY CHECK (id = 1),
			name TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, latest); err != nil {
		return fmt.Errorf("failed to create procedure_latest table: %w", err)
	}
	return nil
}

func (s *SQLiteStore[T]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Save implements Store.
func (s *SQLiteStore[T]) Save(ctx context.Context, name string, stage int, value T) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `
		INSERT INTO procedure_contexts (name, stage, value, saved_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			stage = excluded.stage,
			value = excluded.value,
			saved_at_ns = excluded.saved_at_ns
	`
	if _, err := tx.ExecContext(ctx, upsert, name, stage, string(data), s.now().UTC().UnixNano()); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	pointer := `
		INSERT INTO procedure_latest (id, name) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	if _, err := tx.ExecContext(ctx, pointer, name); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore[T]) LoadLatest(ctx context.Context) (T, string, error) {
	var zero T
	if err := s.checkOpen(); err != nil {
		return zero, "", err
	}

	query := `
		SELECT c.name, c.value
		FROM procedure_latest l
		JOIN procedure_contexts c ON c.name = l.name
		WHERE l.id = 1
	`
	var name, data string
	err := s.db.QueryRowContext(ctx, query).Scan(&name, &data)
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
func (s *SQLiteStore[T]) Load(ctx context.Context, name string) (T, error) {
	var zero T
	if err := s.checkOpen(); err != nil {
		return zero, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM procedure_contexts WHERE name = ?", name).Scan(&data)
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
func (s *SQLiteStore[T]) List(ctx context.Context) ([]Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT c.name, c.stage, c.saved_at_ns, COALESCE(l.name, '')
		FROM procedure_contexts c
		LEFT JOIN procedure_latest l ON l.id = 1
		ORDER BY c.saved_at_ns, c.name
	`
	return queryEntries(ctx, s.db, query)
}

// Close closes the database. Calling Close multiple times is safe.
func (s *SQLiteStore[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore[T]) Path() string { return s.path }

// queryEntries scans rows of (name, stage, saved_at_ns, current name).
func queryEntries(ctx context.Context, db *sql.DB, query string) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			savedNs int64
			current string
		)
		if err := rows.Scan(&e.Name, &e.Stage, &savedNs, &current); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		e.SavedAt = time.Unix(0, savedNs).UTC()
		e.Current = e.Name == current
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return entries, nil
}
