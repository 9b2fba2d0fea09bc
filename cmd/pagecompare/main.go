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
		Use:          "pagecompare",
		Short:        "Compare page-load performance of two browsers",
		Long:         `pagecompare loads a page repeatedly in two browsers, stops once the load times are consistent and reports which browser is faster per metric.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(inspectCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
