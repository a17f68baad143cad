// Command comtrust records and analyzes trigger latency measurements.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"comtrust/latency/internal/logger"
)

const defaultLogFile = "comtrust.logs"

// globals are the flags shared by every subcommand.
type globals struct {
	logFile string
	verbose bool
	logger  *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "comtrust",
		Short:         "Trigger latency recording and analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.NewLogger(g.logFile, g.verbose)
			if err != nil {
				return err
			}
			g.logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if g.logger != nil {
				g.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&g.logFile, "log-file", defaultLogFile, "JSON log file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log debug messages to the console")

	root.AddCommand(analyzeSubcommand(g))
	root.AddCommand(triggerSubcommand(g))
	return root
}
