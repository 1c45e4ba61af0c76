package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dan-solli/entityx/cmd/entityx/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
