package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/procedure-go/procedure"
	"github.com/dshills/procedure-go/procedure/cluster"
	"github.com/dshills/procedure-go/procedure/document"
)

// Step names.
const (
	InitStep    = "h_init"
	ImportStep  = "h_importdata"
	RestoreStep = "h_restoredata"
	NoteStep    = "h_note"
	ExportStep  = "h_exportdata"
)

// ManifestFile is the product manifest written by h_exportdata.
const ManifestFile = "pipeline_manifest.yaml"

// Config configures the bookkeeping steps.
type Config struct {
	// ProductsDir receives the manifest. The products_dir argument of
	// h_exportdata overrides it.
	ProductsDir string

	// Runner spreads file checks over a worker pool. Nil runs them one at
	// a time.
	Runner cluster.Runner

	// Now defaults to time.Now.
	Now func() time.Time
}

// Names returns the registered step names.
func Names() []string {
	return []string{InitStep, ImportStep, RestoreStep, NoteStep, ExportStep}
}

// Register adds the bookkeeping steps to reg.
func Register(reg *procedure.MapRegistry[Project], cfg Config) error {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	b := &bookkeeping{cfg: cfg}
	table := []struct {
		name string
		step procedure.Step[Project]
	}{
		{InitStep, procedure.StepFunc[Project](b.init)},
		{ImportStep, b.importer("imported")},
		{RestoreStep, b.importer("restored")},
		{NoteStep, procedure.StepFunc[Project](b.note)},
		{ExportStep, procedure.StepFunc[Project](b.export)},
	}
	for _, entry := range table {
		if err := reg.Register(entry.name, entry.step); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding only the bookkeeping steps.
func NewRegistry(cfg Config) (*procedure.MapRegistry[Project], error) {
	reg := procedure.NewMapRegistry[Project]()
	if err := Register(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}

type bookkeeping struct {
	cfg Config
}

func (b *bookkeeping) run(ctx context.Context, tasks []func(context.Context) error) error {
	if b.cfg.Runner != nil {
		return b.cfg.Runner.Run(ctx, tasks...)
	}
	for _, task := range tasks {
		if err := task(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *bookkeeping) init(_ context.Context, c procedure.Call[Project]) procedure.Result[Project] {
	title := stringArg(c.Args, "title")
	code := stringArg(c.Args, "project")
	return procedure.Result[Project]{
		Logs: []string{fmt.Sprintf("initialized project %q (%s)", title, code)},
		Update: func(p Project) (Project, error) {
			if title != "" {
				p.Title = title
			}
			if code != "" {
				p.ProjectCode = code
			}
			return p, nil
		},
	}
}

// importer registers the datasets named by vis, one session label each.
// Unreadable datasets are reported, one traceback per dataset.
func (b *bookkeeping) importer(verb string) procedure.Step[Project] {
	return procedure.StepFunc[Project](func(ctx context.Context, c procedure.Call[Project]) procedure.Result[Project] {
		visArg, ok := c.Args.Get("vis")
		if !ok {
			return procedure.Result[Project]{Err: errors.New("vis argument is required")}
		}
		vis := visArg.StringSlice()
		if len(vis) == 0 {
			return procedure.Result[Project]{Err: errors.New("vis lists no datasets")}
		}
		var sessions []string
		if arg, ok := c.Args.Get("session"); ok {
			sessions = arg.StringSlice()
		}
		if len(sessions) == 0 {
			sessions = make([]string, len(vis))
			for i := range sessions {
				sessions[i] = document.DefaultSession
			}
		}
		if len(sessions) != len(vis) {
			return procedure.Result[Project]{
				Err: fmt.Errorf("%d session labels for %d datasets", len(sessions), len(vis)),
			}
		}

		sizes := make([]int64, len(vis))
		errs := make([]error, len(vis))
		tasks := make([]func(context.Context) error, len(vis))
		for i, path := range vis {
			tasks[i] = func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				sizes[i], errs[i] = pathSize(path)
				return nil
			}
		}
		if err := b.run(ctx, tasks); err != nil {
			return procedure.Result[Project]{Err: err}
		}

		var tracebacks []string
		for i, err := range errs {
			if err != nil {
				tracebacks = append(tracebacks, fmt.Sprintf("%s: cannot read dataset %s: %v", c.Name, vis[i], err))
			}
		}
		if len(tracebacks) > 0 {
			return procedure.Failed[Project](tracebacks...)
		}

		logs := make([]string, 0, len(vis))
		for i, path := range vis {
			if _, exists := c.State.Dataset(path); exists {
				logs = append(logs, "already registered "+path)
				continue
			}
			logs = append(logs, fmt.Sprintf("%s %s (%s, %d bytes)", verb, path, sessions[i], sizes[i]))
		}
		return procedure.Result[Project]{
			Logs: logs,
			Update: func(p Project) (Project, error) {
				for i, path := range vis {
					if _, exists := p.Dataset(path); exists {
						continue
					}
					p.Datasets = append(p.Datasets, Dataset{
						Vis:     path,
						Session: sessions[i],
						Origin:  c.Name,
						Size:    sizes[i],
					})
				}
				return p, nil
			},
		}
	})
}

func (b *bookkeeping) note(_ context.Context, c procedure.Call[Project]) procedure.Result[Project] {
	text := stringArg(c.Args, "text")
	if text == "" {
		text = stringArg(c.Args, "note")
	}
	if text == "" {
		return procedure.Result[Project]{Err: errors.New("text argument is required")}
	}
	return procedure.Result[Project]{
		Logs: []string{"note: " + text},
		Update: func(p Project) (Project, error) {
			p.Notes = append(p.Notes, text)
			return p, nil
		},
	}
}

type manifest struct {
	Project     string          `yaml:"project,omitempty"`
	ProjectCode string          `yaml:"project_code,omitempty"`
	RunID       string          `yaml:"run_id"`
	Context     string          `yaml:"context"`
	Stage       int             `yaml:"stage"`
	GeneratedAt time.Time       `yaml:"generated_at"`
	Datasets    []Dataset       `yaml:"datasets,omitempty"`
	Products    []productRecord `yaml:"products,omitempty"`
	Notes       []string        `yaml:"notes,omitempty"`
}

type productRecord struct {
	Path   string `yaml:"path"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256,omitempty"`
}

// export writes the product manifest: project identity, registered datasets,
// and a checksum for every product file recorded so far.
func (b *bookkeeping) export(ctx context.Context, c procedure.Call[Project]) procedure.Result[Project] {
	dir := stringArg(c.Args, "products_dir")
	if dir == "" {
		dir = b.cfg.ProductsDir
	}
	if dir == "" {
		return procedure.Result[Project]{Err: errors.New("no products directory configured")}
	}

	p := c.State
	records := make([]productRecord, len(p.Products))
	tasks := make([]func(context.Context) error, len(p.Products))
	for i, path := range p.Products {
		tasks[i] = func(context.Context) error {
			rec, err := checksum(path)
			if err != nil {
				return fmt.Errorf("checksum %s: %w", path, err)
			}
			records[i] = rec
			return nil
		}
	}
	if err := b.run(ctx, tasks); err != nil {
		return procedure.Result[Project]{Err: err}
	}

	data, err := yaml.Marshal(manifest{
		Project:     p.Title,
		ProjectCode: p.ProjectCode,
		RunID:       c.RunID,
		Context:     c.ContextName,
		Stage:       c.Stage,
		GeneratedAt: b.cfg.Now().UTC(),
		Datasets:    p.Datasets,
		Products:    records,
		Notes:       p.Notes,
	})
	if err != nil {
		return procedure.Result[Project]{Err: fmt.Errorf("marshal manifest: %w", err)}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return procedure.Result[Project]{Err: fmt.Errorf("create products directory: %w", err)}
	}
	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return procedure.Result[Project]{Err: fmt.Errorf("write manifest: %w", err)}
	}

	return procedure.Result[Project]{
		Logs: []string{fmt.Sprintf("wrote %s (%d datasets, %d products)", path, len(p.Datasets), len(records))},
		Update: func(p Project) (Project, error) {
			for _, existing := range p.Products {
				if existing == path {
					return p, nil
				}
			}
			p.Products = append(p.Products, path)
			return p, nil
		},
	}
}

func stringArg(args document.Arguments, key string) string {
	v, ok := args.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.Text(); ok {
		return s
	}
	return v.Literal()
}

// pathSize returns the size of a file, or the total size of the files below
// a directory.
func pathSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

// checksum hashes a product file. Directories are recorded by size only.
func checksum(path string) (productRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return productRecord{}, err
	}
	if info.IsDir() {
		size, err := pathSize(path)
		return productRecord{Path: path, Size: size}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return productRecord{}, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return productRecord{}, err
	}
	return productRecord{Path: path, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
