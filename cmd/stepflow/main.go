package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RealZimboGuy/stepflow/pkg/stepflow"
)

func main() {

	//you may do your own logger setup here or use this default one with slog
	stepflow.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := stepflow.Setup()
	if err != nil {
		slog.Error("Failed to set up stepflow", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		slog.Error("Engine exited with error", "error", err)
		os.Exit(1)
	}
}
