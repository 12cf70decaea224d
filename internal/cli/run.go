package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"empathai/internal/app"

	"github.com/spf13/cobra"
)

func runCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), o)
		},
	}
}

func runDaemon(parent context.Context, o *options) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(o.cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if ctx.Err() == nil {
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
