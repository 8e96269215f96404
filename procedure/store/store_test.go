package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type snapshot struct {
	Stage int      `json:"stage"`
	Steps []string `json:"steps"`
}

// testClock returns a clock that advances one second per call.
func testClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

type storeFactory struct {
	name string
	open func(t *testing.T) Store[snapshot]
}

func factories() []storeFactory {
	return []storeFactory{
		{name: "memory", open: func(t *testing.T) Store[snapshot] {
			s := NewMemStore[snapshot]()
			s.now = testClock()
			return s
		}},
		{name: "file", open: func(t *testing.T) Store[snapshot] {
			s, err := NewFileStore[snapshot](filepath.Join(t.TempDir(), "work"))
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			s.now = testClock()
			return s
		}},
		{name: "sqlite", open: func(t *testing.T) Store[snapshot] {
			s, err := NewSQLiteStore[snapshot](filepath.Join(t.TempDir(), "contexts.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			s.now = testClock()
			return s
		}},
	}
}

func TestStores(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			runStoreContract(t, f.open)
		})
	}
}

func runStoreContract(t *testing.T, open func(t *testing.T) Store[snapshot]) {
	ctx := context.Background()

	t.Run("empty store has no latest", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		_, _, err := s.LoadLatest(ctx)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadLatest on empty store: got %v, want ErrNotFound", err)
		}
		if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("save makes snapshot current", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		first := snapshot{Stage: 1, Steps: []string{"h_init"}}
		if err := s.Save(ctx, "pipeline-a", 1, first); err != nil {
			t.Fatalf("Save: %v", err)
		}
		second := snapshot{Stage: 2, Steps: []string{"h_init", "h_importdata"}}
		if err := s.Save(ctx, "pipeline-b", 2, second); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, name, err := s.LoadLatest(ctx)
		if err != nil {
			t.Fatalf("LoadLatest: %v", err)
		}
		if name != "pipeline-b" || got.Stage != 2 || len(got.Steps) != 2 {
			t.Errorf("LoadLatest = %+v (%s), want pipeline-b at stage 2", got, name)
		}

		prior, err := s.Load(ctx, "pipeline-a")
		if err != nil {
			t.Fatalf("superseded snapshot lost: %v", err)
		}
		if prior.Stage != 1 {
			t.Errorf("prior stage = %d, want 1", prior.Stage)
		}
	})

	t.Run("resave replaces and moves pointer", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		_ = s.Save(ctx, "a", 1, snapshot{Stage: 1})
		_ = s.Save(ctx, "b", 1, snapshot{Stage: 1})
		if err := s.Save(ctx, "a", 3, snapshot{Stage: 3}); err != nil {
			t.Fatalf("Save: %v", err)
		}

		got, name, err := s.LoadLatest(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if name != "a" || got.Stage != 3 {
			t.Errorf("LoadLatest = %s stage %d, want a stage 3", name, got.Stage)
		}
	})

	t.Run("list marks current", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		for i, name := range []string{"one", "two", "three"} {
			if err := s.Save(ctx, name, i, snapshot{Stage: i}); err != nil {
				t.Fatal(err)
			}
		}
		entries, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("List returned %d entries, want 3", len(entries))
		}
		for i, want := range []string{"one", "two", "three"} {
			if entries[i].Name != want || entries[i].Stage != i {
				t.Errorf("entry %d = %+v, want %s stage %d", i, entries[i], want, i)
			}
			if entries[i].Current != (want == "three") {
				t.Errorf("entry %s Current = %v", want, entries[i].Current)
			}
		}
		if !entries[0].SavedAt.Before(entries[2].SavedAt) {
			t.Errorf("entries not ordered by save time: %v", entries)
		}
	})

	t.Run("loaded value does not alias saved value", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		v := snapshot{Steps: []string{"a"}}
		_ = s.Save(ctx, "x", 0, v)
		v.Steps[0] = "mutated"

		got, err := s.Load(ctx, "x")
		if err != nil {
			t.Fatal(err)
		}
		if got.Steps[0] != "a" {
			t.Errorf("stored snapshot changed after save: %v", got.Steps)
		}
	})

	t.Run("invalid names rejected", func(t *testing.T) {
		s := open(t)
		defer func() { _ = s.Close() }()

		for _, name := range []string{"", "latest", "../escape", "a/b", "x.tmp"} {
			if err := s.Save(ctx, name, 0, snapshot{}); !errors.Is(err, ErrInvalidName) {
				t.Errorf("Save(%q) = %v, want ErrInvalidName", name, err)
			}
		}
	})

	t.Run("closed store", func(t *testing.T) {
		s := open(t)
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close = %v, want nil", err)
		}
		if err := s.Save(ctx, "a", 0, snapshot{}); !errors.Is(err, ErrClosed) {
			t.Errorf("Save after Close = %v, want ErrClosed", err)
		}
		if _, _, err := s.LoadLatest(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("LoadLatest after Close = %v, want ErrClosed", err)
		}
	})
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore[snapshot](dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Save(ctx, "pipeline-1", 2, snapshot{Stage: 2}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "pipeline-1.context.json")); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}
	pointer, err := os.ReadFile(filepath.Join(dir, LatestPointer))
	if err != nil {
		t.Fatalf("latest pointer missing: %v", err)
	}
	if strings.TrimSpace(string(pointer)) != "pipeline-1" {
		t.Errorf("latest pointer = %q", pointer)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestFileStore_IgnoresInterruptedSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore[snapshot](dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "good", 4, snapshot{Stage: 4}); err != nil {
		t.Fatal(err)
	}

	// A crash mid-save leaves a partial temporary file.
	partial := filepath.Join(dir, ".good.context.json.123"+tmpSuffix)
	if err := os.WriteFile(partial, []byte(`{"name":"good","stage":5,"val`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, name, err := s.LoadLatest(ctx)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if name != "good" || got.Stage != 4 {
		t.Errorf("LoadLatest = %s stage %d, want good stage 4", name, got.Stage)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("List included temporary file: %+v", entries)
	}
}

func TestFileStore_DanglingPointer(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore[snapshot](dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, LatestPointer), []byte("gone\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadLatest(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadLatest with dangling pointer = %v, want ErrNotFound", err)
	}
}

func TestFileStore_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore[snapshot](dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.SnapshotPath("pipeline-1"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, LatestPointer), []byte("pipeline-1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.LoadLatest(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Errorf("LoadLatest with corrupt snapshot = %v, want ErrCorrupt", err)
	}
}

func TestFileStore_RequiresDir(t *testing.T) {
	if _, err := NewFileStore[snapshot](""); err == nil {
		t.Error("expected error for empty directory")
	}
}
