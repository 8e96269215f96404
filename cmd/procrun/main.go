// Command procrun runs processing procedures with the built-in bookkeeping
// steps and inspects the snapshots they leave behind.
//
// Usage:
//
//	procrun run -doc PPR.xml [-bpaction break|resume] [-workdir DIR] ...
//	procrun contexts [-workdir DIR] [-json]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage:
  procrun run [flags] [document]    run a processing request or recipe
  procrun contexts [flags]          list persisted execution contexts

Run "procrun <command> -h" for the flags of a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	switch args[0] {
	case "run":
		cfg, err := parseRunArgs(args[1:], stderr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		return runProcedure(ctx, cfg, stdout, stderr)
	case "contexts":
		return listContexts(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitDone
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n%s", args[0], usage)
		return exitUsage
	}
}
