// Command mcpindex serves an instruction catalog to AI assistants over the
// Model Context Protocol and manages the catalog from the terminal.
//
// Usage:
//
//	mcpindex serve            # MCP server on stdio (default command)
//	mcpindex list --json      # inspect the catalog
//	mcpindex browse           # terminal browser
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
