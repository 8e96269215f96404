package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dshills/procedure-go/procedure/store"
)

// listContexts prints every persisted snapshot, marking the current one.
func listContexts(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("contexts", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := defaultConfig()
	fs.StringVar(&cfg.WorkDir, "workdir", cfg.WorkDir, "working directory holding the snapshots")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "snapshot store: file, sqlite or mysql")
	fs.StringVar(&cfg.DSN, "dsn", "", "database path (sqlite) or DSN (mysql)")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer st.Close()

	entries, err := st.List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []store.Entry{}
		}
		if err := enc.Encode(entries); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		return exitDone
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTAGE\tSAVED\tCURRENT")
	for _, e := range entries {
		current := ""
		if e.Current {
			current = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", e.Name, e.Stage, e.SavedAt.UTC().Format(time.RFC3339), current)
	}
	if err := tw.Flush(); err != nil {
		return exitFailed
	}
	return exitDone
}
