package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ctagard/sdb-dap/internal/version"
)

const description = `Debug adapter for the SDB remote debugger.

Speaks the Debug Adapter Protocol to an editor and drives an SDB target over
its HTTP command interface and WebSocket event stream. The same runtimes are
also available as MCP tools.`

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name(version.Name),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{"version": version.Name + " " + version.Version},
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
