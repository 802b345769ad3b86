package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/spotcapture/internal/config"
)

// version is set at build time with -ldflags "-X ...cmd.version=..."
var version = "0.1.0"

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
	debug        bool
)

var rootCmd = &cobra.Command{
	Use:   "spotcapture",
	Short: "Record the tracks a Spotify client plays, one file per track",
	Long: `SpotCapture follows the Spotify desktop client over MPRIS and records
every track it plays into its own FLAC file.

Playback is routed into a dedicated PulseAudio sink. On every track change
the recorder rewinds to the start of the track, starts a new capture and
stops the previous one. Advertisements are skipped.

Running without a subcommand is the same as 'spotcapture record'.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug && verboseLevel < 1 {
			verboseLevel = 1
		}
		setupLogging(verboseLevel)

		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.File != "" {
			slog.Debug("Loaded configuration", "file", cfg.File)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecorder(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/spotcapture.yaml)")
	pf.IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output")
	pf.BoolVarP(&debug, "debug", "d", false, "print debug messages (same as -v 1)")

	pf.BoolP("skip-intro", "s", false, "skip the intro message")
	pf.BoolP("mute-recording", "m", false, "mute the player while recording")
	pf.StringP("output-directory", "o", "", "where to save the recordings")
	pf.StringP("filename-pattern", "p", "", "filename pattern, placeholders: {artist} {album} {trackNumber} {title}")
	pf.BoolP("underscored-filenames", "u", false, "force the file names to have underscores instead of whitespaces")
	pf.BoolP("internal-track-counter", "c", false, "replace the track number with an internal counter starting at 001")
	pf.BoolP("add-cover-art", "a", false, "embed the album cover into the recordings")
	pf.String("status-address", "", "serve a read-only JSON status on this address, e.g. 127.0.0.1:8421")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(previewCmd)
}

// setupLogging configures slog based on the verbose level. Terminals get
// the text handler, anything else gets JSON lines.
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}

	var handler slog.Handler
	if fd := os.Stderr.Fd(); isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
