// Package report writes the artifacts that describe a failed run: an error
// marker that operators can discover in the working directory, and an export
// of whatever products the run produced.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MarkerPrefix starts the file name of every error marker.
const MarkerPrefix = "errorexit-"

// Failure describes a failed run.
type Failure struct {
	RunID       string
	ContextName string
	Procedure   string
	Stage       int

	// Step is the step that failed, empty when the failure happened outside
	// a step.
	Step string

	// Tracebacks holds every traceback recorded in the run, oldest first.
	Tracebacks []string

	// Artifacts are exported into the products directory.
	Artifacts []Artifact

	Time time.Time
}

// Artifact is one exported product. Exactly one of Data or Source is used;
// Source names a file that is copied.
type Artifact struct {
	Name   string
	Data   []byte
	Source string
}

// Reporter records a failure.
type Reporter interface {
	Report(ctx context.Context, f Failure) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, f Failure) error

// Report implements Reporter.
func (fn ReporterFunc) Report(ctx context.Context, f Failure) error { return fn(ctx, f) }

// FileReporter writes the marker into WorkDir and copies it, with every
// artifact, into ProductsDir.
type FileReporter struct {
	WorkDir     string
	ProductsDir string
}

// NewFileReporter creates a FileReporter. An empty productsDir means
// "<workDir>/products".
func NewFileReporter(workDir, productsDir string) *FileReporter {
	if productsDir == "" {
		productsDir = filepath.Join(workDir, "products")
	}
	return &FileReporter{WorkDir: workDir, ProductsDir: productsDir}
}

// MarkerName returns the marker file name for a failure at t.
func MarkerName(t time.Time) string {
	return MarkerPrefix + t.UTC().Format("20060102T150405.000000000Z") + ".txt"
}

// Report implements Reporter. The marker is written first; export problems
// are collected and returned together after every artifact was attempted.
func (r *FileReporter) Report(ctx context.Context, f Failure) error {
	if r.WorkDir == "" {
		return errors.New("report: working directory is required")
	}
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	if err := os.MkdirAll(r.WorkDir, 0o755); err != nil {
		return fmt.Errorf("report: create working directory: %w", err)
	}

	marker := filepath.Join(r.WorkDir, MarkerName(f.Time))
	if err := os.WriteFile(marker, []byte(FormatMarker(f)), 0o644); err != nil {
		return fmt.Errorf("report: write error marker: %w", err)
	}

	if r.ProductsDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.ProductsDir, 0o755); err != nil {
		return fmt.Errorf("report: create products directory: %w", err)
	}

	var errs []error
	if err := copyFile(marker, filepath.Join(r.ProductsDir, filepath.Base(marker))); err != nil {
		errs = append(errs, fmt.Errorf("copy error marker: %w", err))
	}
	for _, a := range f.Artifacts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.export(a); err != nil {
			errs = append(errs, fmt.Errorf("export %s: %w", a.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("report: %w", errors.Join(errs...))
	}
	return nil
}

func (r *FileReporter) export(a Artifact) error {
	name := filepath.Base(a.Name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return errors.New("artifact has no name")
	}
	dst := filepath.Join(r.ProductsDir, name)
	if a.Source != "" {
		return copyFile(a.Source, dst)
	}
	return os.WriteFile(dst, a.Data, 0o644)
}

// FormatMarker renders the marker file contents.
func FormatMarker(f Failure) string {
	var b strings.Builder
	b.WriteString("Procedure failed\n")
	fmt.Fprintf(&b, "time: %s\n", f.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "run: %s\n", f.RunID)
	fmt.Fprintf(&b, "context: %s\n", f.ContextName)
	if f.Procedure != "" {
		fmt.Fprintf(&b, "procedure: %s\n", f.Procedure)
	}
	fmt.Fprintf(&b, "stage: %d\n", f.Stage)
	if f.Step != "" {
		fmt.Fprintf(&b, "step: %s\n", f.Step)
	}
	for i, tb := range f.Tracebacks {
		fmt.Fprintf(&b, "\n--- traceback %d ---\n%s\n", i+1, strings.TrimRight(tb, "\n"))
	}
	return b.String()
}

// FindMarkers returns the error markers in dir, oldest first.
func FindMarkers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var markers []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), MarkerPrefix) && strings.HasSuffix(e.Name(), ".txt") {
			markers = append(markers, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(markers)
	return markers, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
