// Package store persists execution-context snapshots.
//
// Every snapshot is saved under a unique name. A store also keeps a single
// "latest" pointer naming the current snapshot, which is what a resumed run
// loads. Superseded snapshots are never deleted by the store.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested snapshot does not exist, or when
// no snapshot has been marked current yet.
var ErrNotFound = errors.New("not found")

// ErrCorrupt is returned when a stored snapshot cannot be decoded into the
// store's value type.
var ErrCorrupt = errors.New("snapshot cannot be decoded")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("store is closed")

// ErrInvalidName is returned when a snapshot name cannot be stored.
var ErrInvalidName = errors.New("invalid snapshot name")

// LatestPointer is the reserved name of the current-snapshot pointer.
const LatestPointer = "latest"

// Store persists named snapshots of type T.
//
// Implementations must replace a snapshot atomically: a reader observes either
// the previous value or the new one, never a partial write.
type Store[T any] interface {
	// Save writes value under name and makes it the current snapshot.
	// Saving an existing name replaces that snapshot.
	Save(ctx context.Context, name string, stage int, value T) error

	// LoadLatest returns the current snapshot and its name.
	// Returns ErrNotFound when nothing has been saved.
	LoadLatest(ctx context.Context) (value T, name string, err error)

	// Load returns the snapshot saved under name.
	// Returns ErrNotFound if name does not exist.
	Load(ctx context.Context, name string) (T, error)

	// List describes every stored snapshot, oldest first.
	List(ctx context.Context) ([]Entry, error)

	// Close releases resources. Calling Close more than once is a no-op.
	Close() error
}

// Entry describes one stored snapshot.
type Entry struct {
	Name    string    `json:"name"`
	Stage   int       `json:"stage"`
	SavedAt time.Time `json:"saved_at"`
	Current bool      `json:"current"`
}

// ValidateName reports whether name can be used as a snapshot name in every
// store implementation.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case name == LatestPointer:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case len(name) > 255:
		return fmt.Errorf("%w: longer than 255 bytes", ErrInvalidName)
	case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.HasSuffix(name, tmpSuffix):
		return fmt.Errorf("%w: %q has the temporary-file suffix", ErrInvalidName, name)
	}
	return nil
}
