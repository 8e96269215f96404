package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/procedure-go/procedure"
	"github.com/dshills/procedure-go/procedure/cluster"
	"github.com/dshills/procedure-go/procedure/document"
	"github.com/dshills/procedure-go/procedure/store"
)

const recipeXML = `<ProcessingProcedure>
  <ProcedureTitle>bookkeeping</ProcedureTitle>
  <ProcessingCommand>
    <Command>h_init</Command>
    <ParameterSet>
      <Parameter><Keyword>title</Keyword><Value>'Orion survey'</Value></Parameter>
      <Parameter><Keyword>project</Keyword><Value>'2025.1.00001.S'</Value></Parameter>
    </ParameterSet>
  </ProcessingCommand>
  <ProcessingCommand><Command>h_importdata</Command><ParameterSet/></ProcessingCommand>
  <ProcessingCommand>
    <Command>h_note</Command>
    <ParameterSet>
      <Parameter><Keyword>text</Keyword><Value>'calibrated'</Value></Parameter>
    </ParameterSet>
  </ProcessingCommand>
  <ProcessingCommand><Command>h_exportdata</Command><ParameterSet/></ProcessingCommand>
</ProcessingProcedure>`

func writeDataset(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Join(path, "ANTENNA"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "table.dat"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "ANTENNA", "table.dat"), []byte("01234"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSteps_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	products := filepath.Join(t.TempDir(), "products")
	ms1 := writeDataset(t, dataDir, "uid___A002_X1.ms")
	ms2 := writeDataset(t, dataDir, "uid___A002_X2.ms")

	pool := cluster.NewLocalPool(2)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer pool.Shutdown(ctx)

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	reg, err := NewRegistry(Config{ProductsDir: products, Runner: pool, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	doc, err := document.Parse(strings.NewReader(recipeXML), document.FormatAuto)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	engine, err := procedure.New[Project](reg, store.NewMemStore[procedure.Context[Project]](), procedure.Options{
		Inputs: document.Inputs{Files: []string{ms1, ms2}, Sessions: []string{"session_1", "session_2"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	outcome, err := engine.Run(ctx, doc, Project{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := outcome.Context.State

	if p.Title != "Orion survey" || p.ProjectCode != "2025.1.00001.S" {
		t.Errorf("project = %q/%q", p.Title, p.ProjectCode)
	}
	if len(p.Datasets) != 2 {
		t.Fatalf("datasets = %+v", p.Datasets)
	}
	if ds := p.Datasets[1]; ds.Vis != ms2 || ds.Session != "session_2" || ds.Size != 15 || ds.Origin != ImportStep {
		t.Errorf("second dataset = %+v", ds)
	}
	if got := p.Sessions(); len(got) != 2 || got[0] != "session_1" {
		t.Errorf("Sessions = %v", got)
	}
	if len(p.Notes) != 1 || p.Notes[0] != "calibrated" {
		t.Errorf("notes = %v", p.Notes)
	}

	manifestPath := filepath.Join(products, ManifestFile)
	if len(p.Products) != 1 || p.Products[0] != manifestPath {
		t.Errorf("products = %v", p.Products)
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if m.Project != "Orion survey" || m.Stage != 3 || len(m.Datasets) != 2 || m.RunID != outcome.Context.RunID {
		t.Errorf("manifest = %+v", m)
	}
	if !m.GeneratedAt.Equal(fixed) {
		t.Errorf("generated_at = %v, want %v", m.GeneratedAt, fixed)
	}
}

func runStep(t *testing.T, reg *procedure.MapRegistry[Project], name string, args document.Arguments, state Project) procedure.Result[Project] {
	t.Helper()
	step, err := reg.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", name, err)
	}
	return step.Invoke(context.Background(), procedure.Call[Project]{Name: name, Args: args, State: state})
}

func TestImport_MissingDatasetsReported(t *testing.T) {
	reg, err := NewRegistry(Config{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dir := t.TempDir()
	present := writeDataset(t, dir, "present.ms")
	args := document.Arguments{{Key: "vis", Value: document.Strings([]string{
		present,
		filepath.Join(dir, "missing1.ms"),
		filepath.Join(dir, "missing2.ms"),
	})}}

	res := runStep(t, reg, RestoreStep, args, Project{})
	if res.Err != nil {
		t.Fatalf("Err = %v, want reported failure", res.Err)
	}
	if len(res.Tracebacks) != 2 {
		t.Fatalf("tracebacks = %q, want one per missing dataset", res.Tracebacks)
	}
	if !strings.Contains(res.Tracebacks[0], "missing1.ms") {
		t.Errorf("traceback = %q", res.Tracebacks[0])
	}
}

func TestImport_ArgumentErrors(t *testing.T) {
	reg, err := NewRegistry(Config{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tests := []struct {
		name string
		args document.Arguments
		want string
	}{
		{"no vis", nil, "vis argument is required"},
		{"empty vis", document.Arguments{{Key: "vis", Value: document.List()}}, "no datasets"},
		{
			"session mismatch",
			document.Arguments{
				{Key: "vis", Value: document.Strings([]string{"a.ms", "b.ms"})},
				{Key: "session", Value: document.Strings([]string{"session_1"})},
			},
			"1 session labels for 2 datasets",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runStep(t, reg, ImportStep, tt.args, Project{})
			if res.Err == nil || !strings.Contains(res.Err.Error(), tt.want) {
				t.Errorf("Err = %v, want %q", res.Err, tt.want)
			}
		})
	}
}

func TestImport_SkipsRegisteredDatasets(t *testing.T) {
	reg, err := NewRegistry(Config{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	ms := writeDataset(t, t.TempDir(), "a.ms")
	state := Project{Datasets: []Dataset{{Vis: ms, Session: "session_1", Origin: ImportStep}}}

	res := runStep(t, reg, ImportStep, document.Arguments{{Key: "vis", Value: document.String(ms)}}, state)
	if !res.Success() {
		t.Fatalf("result failed: %v %q", res.Err, res.Tracebacks)
	}
	next, err := res.Update(state)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(next.Datasets) != 1 {
		t.Errorf("datasets = %+v, want the dataset once", next.Datasets)
	}
	if len(res.Logs) != 1 || !strings.HasPrefix(res.Logs[0], "already registered") {
		t.Errorf("logs = %v", res.Logs)
	}
}

func TestNote_RequiresText(t *testing.T) {
	reg, err := NewRegistry(Config{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if res := runStep(t, reg, NoteStep, nil, Project{}); res.Err == nil {
		t.Error("h_note without text succeeded")
	}
	res := runStep(t, reg, NoteStep, document.Arguments{{Key: "note", Value: document.String("flagged")}}, Project{})
	next, err := res.Update(Project{})
	if err != nil || len(next.Notes) != 1 || next.Notes[0] != "flagged" {
		t.Errorf("notes = %v, err = %v", next.Notes, err)
	}
}

func TestExport_Checksums(t *testing.T) {
	reg, err := NewRegistry(Config{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dir := t.TempDir()
	product := filepath.Join(dir, "image.fits")
	if err := os.WriteFile(product, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out")
	args := document.Arguments{{Key: "products_dir", Value: document.String(out)}}

	res := runStep(t, reg, ExportStep, args, Project{Products: []string{product}})
	if res.Err != nil {
		t.Fatalf("Err = %v", res.Err)
	}
	data, err := os.ReadFile(filepath.Join(out, ManifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	const abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if len(m.Products) != 1 || m.Products[0].SHA256 != abc || m.Products[0].Size != 3 {
		t.Errorf("products = %+v", m.Products)
	}

	missing := runStep(t, reg, ExportStep, args, Project{Products: []string{filepath.Join(dir, "gone.fits")}})
	if !errors.Is(missing.Err, os.ErrNotExist) {
		t.Errorf("missing product Err = %v, want ErrNotExist", missing.Err)
	}

	if res := runStep(t, reg, ExportStep, nil, Project{}); res.Err == nil {
		t.Error("export without a products directory succeeded")
	}
}

func TestRegister_RejectsDuplicates(t *testing.T) {
	reg := procedure.NewMapRegistry[Project]()
	if err := Register(reg, Config{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := reg.Names(); len(got) != len(Names()) {
		t.Errorf("Names = %v", got)
	}
	err := Register(reg, Config{})
	var engineErr *procedure.EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != "DUPLICATE_STEP" {
		t.Errorf("second Register = %v, want DUPLICATE_STEP", err)
	}
}
