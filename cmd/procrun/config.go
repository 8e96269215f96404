package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v2"

	"github.com/dshills/procedure-go/procedure"
	"github.com/dshills/procedure-go/procedure/document"
)

// Config holds the settings of one procrun invocation. It can be loaded
// from a YAML file and overridden by flags.
type Config struct {
	Doc      string   `yaml:"doc"`
	Inputs   []string `yaml:"inputs"`
	Sessions []string `yaml:"sessions"`
	DataRoot string   `yaml:"data_root"`
	Mode     string   `yaml:"mode"`

	Breakpoint       string `yaml:"breakpoint"`
	BreakpointAction string `yaml:"breakpoint_action"`
	ResumeName       string `yaml:"resume_name"`
	StartStage       int    `yaml:"start_stage"`
	ExitStage        int    `yaml:"exit_stage"`
	CheckpointEach   bool   `yaml:"checkpoint_each_step"`

	WorkDir     string `yaml:"workdir"`
	ProductsDir string `yaml:"products"`
	Store       string `yaml:"store"`
	DSN         string `yaml:"dsn"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr"`
	TraceFile   string `yaml:"trace_file"`
	EventsFile  string `yaml:"events_file"`

	Workers      int    `yaml:"workers"`
	KeepWorkers  bool   `yaml:"keep_workers"`
	ReadyTimeout string `yaml:"ready_timeout"`
}

const (
	storeFile   = "file"
	storeSQLite = "sqlite"
	storeMySQL  = "mysql"
)

func defaultConfig() Config {
	cfg := Config{
		Mode:             string(procedure.ModeFull),
		BreakpointAction: string(procedure.ActionIgnore),
		WorkDir:          ".",
		Store:            storeFile,
		ReadyTimeout:     "30s",
	}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// loadConfig reads a YAML config file over the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings before anything is opened.
func (c Config) Validate() error {
	if c.Doc == "" {
		return errors.New("required argument missing: procedure document (-doc)")
	}
	if _, err := procedure.ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := procedure.ParseAction(c.BreakpointAction); err != nil {
		return err
	}
	if c.StartStage < 0 || c.ExitStage < 0 {
		return errors.New("stages cannot be negative")
	}
	switch c.Store {
	case storeFile, storeSQLite:
	case storeMySQL:
		if c.DSN == "" {
			return errors.New("mysql store requires -dsn")
		}
	default:
		return fmt.Errorf("invalid store %q (valid: file, sqlite, mysql)", c.Store)
	}
	if c.WorkDir == "" {
		return errors.New("working directory cannot be empty")
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := parseLogFormat(c.Log.Format); err != nil {
		return err
	}
	if c.Workers < 0 {
		return errors.New("workers cannot be negative")
	}
	if _, err := c.readyTimeout(); err != nil {
		return err
	}
	if len(c.Sessions) > 0 && len(c.Sessions) != len(c.Inputs) {
		return fmt.Errorf("%d sessions for %d inputs", len(c.Sessions), len(c.Inputs))
	}
	return nil
}

func (c Config) readyTimeout() (time.Duration, error) {
	if c.ReadyTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.ReadyTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid ready timeout %q: %w", c.ReadyTimeout, err)
	}
	return d, nil
}

// options converts the validated settings into engine options.
func (c Config) options() (procedure.Options, error) {
	mode, err := procedure.ParseMode(c.Mode)
	if err != nil {
		return procedure.Options{}, err
	}
	action, err := procedure.ParseAction(c.BreakpointAction)
	if err != nil {
		return procedure.Options{}, err
	}
	opts := procedure.Options{
		Breakpoint:         procedure.Breakpoint{Name: c.Breakpoint, Action: action},
		StartStage:         c.StartStage,
		ExitStage:          c.ExitStage,
		Inputs:             document.Inputs{Files: c.Inputs, Sessions: c.Sessions},
		DataRoot:           c.DataRoot,
		Mode:               mode,
		CheckpointEachStep: c.CheckpointEach,
		ResumeName:         c.ResumeName,
	}
	return opts, opts.Validate()
}

// parseRunArgs parses the run subcommand. Flags that were set explicitly
// override values from -config; the first positional argument is the
// document when -doc is absent.
func parseRunArgs(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	flags := defaultConfig()
	var configPath, inputs, sessions string
	fs.StringVar(&configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&flags.Doc, "doc", "", "processing request or recipe to run")
	fs.StringVar(&inputs, "inputs", "", "comma-separated datasets for import steps")
	fs.StringVar(&sessions, "sessions", "", "comma-separated session labels, one per input")
	fs.StringVar(&flags.DataRoot, "data-root", "", "directory the request's dataset manifest is resolved against")
	fs.StringVar(&flags.Mode, "mode", flags.Mode, "full or import-only")
	fs.StringVar(&flags.Breakpoint, "breakpoint", "", "breakpoint step name (default \"breakpoint\")")
	fs.StringVar(&flags.BreakpointAction, "bpaction", flags.BreakpointAction, "ignore, break or resume")
	fs.StringVar(&flags.ResumeName, "resume-name", "", "resume this snapshot instead of the latest")
	fs.IntVar(&flags.StartStage, "start-stage", 0, "skip the first N document positions")
	fs.IntVar(&flags.ExitStage, "exit-stage", 0, "stop once N steps have been accepted")
	fs.BoolVar(&flags.CheckpointEach, "checkpoint", false, "save the context after every step")
	fs.StringVar(&flags.WorkDir, "workdir", flags.WorkDir, "working directory for snapshots and error markers")
	fs.StringVar(&flags.ProductsDir, "products", "", "products directory (default <workdir>/products)")
	fs.StringVar(&flags.Store, "store", flags.Store, "snapshot store: file, sqlite or mysql")
	fs.StringVar(&flags.DSN, "dsn", "", "database path (sqlite) or DSN (mysql)")
	fs.StringVar(&flags.Log.Level, "loglevel", flags.Log.Level, "debug, info, warn or error")
	fs.StringVar(&flags.Log.Format, "logformat", flags.Log.Format, "text or json")
	fs.StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&flags.TraceFile, "trace-file", "", "write OpenTelemetry spans to this file")
	fs.StringVar(&flags.EventsFile, "events-file", "", "append run events to this file as JSON lines")
	fs.IntVar(&flags.Workers, "workers", 0, "size of the local worker pool (0 disables it)")
	fs.BoolVar(&flags.KeepWorkers, "keep-workers", false, "leave the worker pool running after the run")
	fs.StringVar(&flags.ReadyTimeout, "ready-timeout", flags.ReadyTimeout, "how long to wait for the worker pool")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := defaultConfig()
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "doc":
			cfg.Doc = flags.Doc
		case "inputs":
			cfg.Inputs = splitList(inputs)
		case "sessions":
			cfg.Sessions = splitList(sessions)
		case "data-root":
			cfg.DataRoot = flags.DataRoot
		case "mode":
			cfg.Mode = flags.Mode
		case "breakpoint":
			cfg.Breakpoint = flags.Breakpoint
		case "bpaction":
			cfg.BreakpointAction = flags.BreakpointAction
		case "resume-name":
			cfg.ResumeName = flags.ResumeName
		case "start-stage":
			cfg.StartStage = flags.StartStage
		case "exit-stage":
			cfg.ExitStage = flags.ExitStage
		case "checkpoint":
			cfg.CheckpointEach = flags.CheckpointEach
		case "workdir":
			cfg.WorkDir = flags.WorkDir
		case "products":
			cfg.ProductsDir = flags.ProductsDir
		case "store":
			cfg.Store = flags.Store
		case "dsn":
			cfg.DSN = flags.DSN
		case "loglevel":
			cfg.Log.Level = flags.Log.Level
		case "logformat":
			cfg.Log.Format = flags.Log.Format
		case "metrics-addr":
			cfg.MetricsAddr = flags.MetricsAddr
		case "trace-file":
			cfg.TraceFile = flags.TraceFile
		case "events-file":
			cfg.EventsFile = flags.EventsFile
		case "workers":
			cfg.Workers = flags.Workers
		case "keep-workers":
			cfg.KeepWorkers = flags.KeepWorkers
		case "ready-timeout":
			cfg.ReadyTimeout = flags.ReadyTimeout
		}
	})
	if cfg.Doc == "" && fs.NArg() > 0 {
		cfg.Doc = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args()[1:], " "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
