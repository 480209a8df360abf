// Command tasksmint starts the sync client core and keeps it running
// until interrupted. Rendering is left to whichever surface embeds the
// app; this entry point exists for headless runs and smoke testing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tasksmint/tasksmint/internal/app"
	"github.com/tasksmint/tasksmint/internal/model"
)

func main() {
	cfgPath := model.DefaultConfigPath()
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	a, err := app.New(cfgPath, app.Hooks{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tasksmint: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tasksmint: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()
}
