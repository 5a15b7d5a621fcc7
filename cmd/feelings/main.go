package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vovakirdan/feelings/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.New().Command().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "feelings: %v\n", err)
		stop()
		os.Exit(1)
	}
}
