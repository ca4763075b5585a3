package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-dre/cmd/odyssey/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.LiveBackend).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "odysseyctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
