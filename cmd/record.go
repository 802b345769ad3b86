package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/spotcapture/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record every track the player plays",
	Long: `Connect to the player, route its audio into the capture sink and record
one file per track until interrupted or until the player is paused.

You should not pause, seek or change volume during recording.
Existing files will be overridden.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecorder(cmd)
	},
}

func runRecorder(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Debug("Record command started", "output_dir", cfg.Output.Directory, "pattern", cfg.Output.FilenamePattern)

	return service.Run(ctx, cfg, service.Options{
		Version:           version,
		Banner:            cmd.OutOrStdout(),
		LogRecorderOutput: verboseLevel >= 2,
	})
}

// contextOrBackground returns the command context, which is nil when the
// command runs outside ExecuteContext
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
