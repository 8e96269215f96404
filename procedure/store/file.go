package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// SnapshotSuffix is appended to the snapshot name to form its file name.
	SnapshotSuffix = ".context.json"

	tmpSuffix = ".tmp"
)

// FileStore keeps one JSON file per snapshot in a working directory:
//
//	<dir>/<name>.context.json
//	<dir>/latest
//
// The latest file holds the name of the current snapshot. Both are replaced
// with a write to a temporary file in the same directory followed by a
// rename, so an interrupted save leaves at most a *.tmp file behind. Readers
// never look at *.tmp files.
type FileStore[T any] struct {
	dir    string
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// fileSnapshot is the on-disk envelope.
type fileSnapshot[T any] struct {
	Name    string    `json:"name"`
	Stage   int       `json:"stage"`
	SavedAt time.Time `json:"saved_at"`
	Value   T         `json:"value"`
}

// NewFileStore opens (creating if needed) a file store rooted at dir.
func NewFileStore[T any](dir string) (*FileStore[T], error) {
	if dir == "" {
		return nil, errors.New("file store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	return &FileStore[T]{dir: dir, now: time.Now}, nil
}

// Dir returns the working directory.
func (s *FileStore[T]) Dir() string { return s.dir }

// SnapshotPath returns the file a snapshot named name is stored in.
func (s *FileStore[T]) SnapshotPath(name string) string {
	return filepath.Join(s.dir, name+SnapshotSuffix)
}

// Save implements Store.
func (s *FileStore[T]) Save(_ context.Context, name string, stage int, value T) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.MarshalIndent(fileSnapshot[T]{
		Name:    name,
		Stage:   stage,
		SavedAt: s.now().UTC(),
		Value:   value,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := writeFileAtomic(s.SnapshotPath(name), data); err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", name, err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, LatestPointer), []byte(name+"\n")); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *FileStore[T]) LoadLatest(ctx context.Context) (T, string, error) {
	var zero T
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return zero, "", ErrClosed
	}

	raw, err := os.ReadFile(filepath.Join(s.dir, LatestPointer))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, "", ErrNotFound
	}
	if err != nil {
		return zero, "", fmt.Errorf("failed to read latest pointer: %w", err)
	}
	name := strings.TrimSpace(string(raw))
	if name == "" {
		return zero, "", ErrNotFound
	}

	value, err := s.Load(ctx, name)
	if err != nil {
		return zero, "", err
	}
	return value, name, nil
}

// Load implements Store.
func (s *FileStore[T]) Load(_ context.Context, name string) (T, error) {
	var zero T
	if err := ValidateName(name); err != nil {
		return zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return zero, ErrClosed
	}

	snap, err := readSnapshot[T](s.SnapshotPath(name))
	if err != nil {
		return zero, err
	}
	return snap.Value, nil
}

// List implements Store.
func (s *FileStore[T]) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	current := ""
	if raw, err := os.ReadFile(filepath.Join(s.dir, LatestPointer)); err == nil {
		current = strings.TrimSpace(string(raw))
	}

	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list working directory: %w", err)
	}
	var entries []Entry
	for _, de := range dirents {
		if de.IsDir() || !strings.HasSuffix(de.Name(), SnapshotSuffix) {
			continue
		}
		snap, err := readSnapshot[json.RawMessage](filepath.Join(s.dir, de.Name()))
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Name:    snap.Name,
			Stage:   snap.Stage,
			SavedAt: snap.SavedAt,
			Current: snap.Name == current,
		})
	}
	sortEntries(entries)
	return entries, nil
}

// Close implements Store.
func (s *FileStore[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func readSnapshot[T any](path string) (fileSnapshot[T], error) {
	var snap fileSnapshot[T]
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot %s: %w: %w", filepath.Base(path), ErrCorrupt, err)
	}
	return snap, nil
}

// writeFileAtomic replaces path with data. The temporary file lives in the
// destination directory so the rename never crosses a filesystem.
func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
