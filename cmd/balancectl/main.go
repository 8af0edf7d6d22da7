package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "balancectl",
		Short:         "Offline tools for balance recordings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(sessionsCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
