package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/audiolibrelab/spotcapture/internal/audio"
	"github.com/audiolibrelab/spotcapture/internal/capture"
	"github.com/audiolibrelab/spotcapture/internal/config"
	"github.com/audiolibrelab/spotcapture/internal/coordinator"
	"github.com/audiolibrelab/spotcapture/internal/coverart"
	"github.com/audiolibrelab/spotcapture/internal/history"
	"github.com/audiolibrelab/spotcapture/internal/naming"
	"github.com/audiolibrelab/spotcapture/internal/player"
	"github.com/audiolibrelab/spotcapture/internal/preflight"
	"github.com/audiolibrelab/spotcapture/internal/server"
)

const AppName = "SpotCapture"

// ErrAlreadyRunning is returned when another recorder holds the instance lock
var ErrAlreadyRunning = errors.New("another recorder is already running")

// ErrPreflight is returned when a required binary or directory is unusable
var ErrPreflight = errors.New("preflight checks failed")

// Options carries process-level settings that are not part of the config file
type Options struct {
	Version string
	// Banner receives the intro text. Nil means stdout.
	Banner io.Writer
	// LogRecorderOutput forwards ffmpeg output to the debug log
	LogRecorderOutput bool
	// LockPath overrides the instance lock location
	LockPath string
}

// Requirements lists the external binaries the recorder needs
func Requirements(cfg *config.Config) []preflight.Requirement {
	return []preflight.Requirement{
		{Name: "FFmpeg", Command: cfg.Audio.FFmpegBinary, Description: "Required for recording and cover art"},
		{Name: "pactl", Command: cfg.Audio.PactlBinary, Description: "Required for audio routing"},
	}
}

// Check runs the startup checks without changing anything but the output
// directory, which is created when missing
func Check(cfg *config.Config) []preflight.Result {
	results := preflight.CheckBinaries(Requirements(cfg))
	results = append(results, preflight.CheckDirectory("Output directory", cfg.Output.Directory, true))
	if cfg.History.Enabled {
		results = append(results, preflight.CheckDirectory("History directory", filepath.Dir(cfg.History.Path), true))
	}
	return results
}

// DefaultLockPath returns the instance lock file for the given sink. One
// recorder per sink name may run at a time.
func DefaultLockPath(sinkName string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("spotcapture-%s.lock", sinkName))
}

// PrintIntro writes the startup banner
func PrintIntro(w io.Writer, version, outputDir string) {
	fmt.Fprintf(w, "%s v%s\n", AppName, version)
	fmt.Fprintln(w, "You should not pause, seek or change volume during recording!")
	fmt.Fprintln(w, "Existing files will be overridden!")
	fmt.Fprintln(w, "Use --help as argument to see all options.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Disclaimer:")
	fmt.Fprintln(w, `This software is for "educational" purposes only. No responsibility is held or accepted for misuse.`)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output directory:")
	fmt.Fprintln(w, outputDir)
	fmt.Fprintln(w)
}

// Run starts the recorder and blocks until ctx is cancelled or the player
// stops on its own. Both are a clean exit and return nil; the capture sink
// is unloaded and running captures are discarded.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	if !cfg.SkipIntro {
		w := opts.Banner
		if w == nil {
			w = os.Stdout
		}
		PrintIntro(w, opts.Version, cfg.Output.Directory)
	}

	if failed := preflight.Failed(Check(cfg)); len(failed) > 0 {
		for _, r := range failed {
			slog.Error("Preflight check failed", "check", r.Name, "detail", r.Detail)
		}
		return fmt.Errorf("%w: %d problem(s), run 'spotcapture check' for details", ErrPreflight, len(failed))
	}

	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = DefaultLockPath(cfg.Audio.SinkName)
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire instance lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("%w (lock: %s)", ErrAlreadyRunning, lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("Failed to release instance lock", "path", lockPath, "error", err)
		}
	}()

	sessionID := uuid.NewString()
	slog.Info("Starting session", "session_id", sessionID, "output_dir", cfg.Output.Directory)

	formatter, err := naming.NewFormatter(cfg.Output.FilenamePattern, cfg.Output.UnderscoredFilenames)
	if err != nil {
		return err
	}

	mpris, err := player.DialMPRIS(ctx, cfg.Player.BusName, cfg.Player.ObjectPath)
	if err != nil {
		return err
	}
	defer mpris.Close()

	router := audio.NewPulseRouter(audio.RouterConfig{
		Binary:   cfg.Audio.PactlBinary,
		SinkName: cfg.Audio.SinkName,
		Mute:     cfg.Audio.MuteRecording,
	})
	if err := router.CreateSink(ctx); err != nil {
		return err
	}
	defer func() {
		// the run context is gone by now
		unloadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := router.DestroySink(unloadCtx); err != nil {
			slog.Warn("Failed to unload capture sink", "sink", router.SinkName(), "error", err)
		}
	}()

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(ctx, cfg.History.Path)
		if err != nil {
			slog.Warn("History disabled", "path", cfg.History.Path, "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	launcher := capture.NewLauncher(capture.LauncherConfig{
		Engine:      engineFor(cfg),
		Runner:      capture.ExecRunner{LogOutput: opts.LogRecorderOutput},
		Registry:    capture.NewRegistry(cfg.Timing.MinimumCapture),
		StopTimeout: cfg.Timing.StopTimeout,
		CoverArt:    coverArtFunc(cfg),
		OnFinalized: historyRecorder(store, sessionID),
	})

	// shutdown must be marked on the launcher before the run context ends,
	// otherwise an interrupted post-roll would finalize its capture
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stopOnSignal := context.AfterFunc(ctx, func() {
		launcher.BeginShutdown()
		cancel()
	})
	defer stopOnSignal()

	monitor := player.NewMonitor(mpris, player.MonitorOptions{
		Formatter:  formatter,
		AdPrefixes: cfg.Player.AdPrefixes,
		UseCounter: cfg.Output.InternalTrackCounter,
	})

	coord := coordinator.New(coordinator.Options{
		Config: coordinator.Config{
			OutputDir:  cfg.Output.Directory,
			SeekDelay:  cfg.Timing.SeekDelay,
			SkipDelay:  cfg.Timing.SkipDelay,
			PreRoll:    cfg.Timing.PreRoll,
			PostRoll:   cfg.Timing.PostRoll,
			UseCounter: cfg.Output.InternalTrackCounter,
		},
		Player:   mpris,
		Tracks:   monitor,
		Launcher: launcher,
		InitRouting: func(ctx context.Context) error {
			return router.RouteApplication(ctx, cfg.Player.ApplicationName)
		},
		OnShutdown: func() {
			slog.Info("Player stopped, shutting down")
			launcher.BeginShutdown()
			cancel()
		},
	})
	if cfg.Output.InternalTrackCounter {
		monitor.UseCounter(coord)
	}

	if err := monitor.Initialize(runCtx); err != nil {
		return fmt.Errorf("%w: %v", player.ErrConnection, err)
	}

	var background conc.WaitGroup

	events := make(chan player.Event, 16)
	background.Go(func() {
		defer close(events)
		if err := monitor.Run(runCtx, events); err != nil {
			slog.Error("Player monitor stopped", "error", err)
			launcher.BeginShutdown()
			cancel()
		}
	})
	background.Go(func() {
		coord.Run(runCtx, events)
	})

	// route right away when the player is already playing
	if monitor.Status() == player.StatusPlaying {
		coord.Handle(runCtx, player.StateChanged{Status: player.StatusPlaying})
	}

	if cfg.Status.Address != "" {
		srvOpts := server.Options{
			Address:   cfg.Status.Address,
			SessionID: sessionID,
			OutputDir: cfg.Output.Directory,
			Status:    coord,
		}
		if store != nil {
			srvOpts.History = store
		}
		srv := server.New(srvOpts)
		if err := srv.Listen(); err != nil {
			slog.Warn("Status server disabled", "error", err)
		} else {
			background.Go(func() {
				if err := srv.Serve(runCtx); err != nil {
					slog.Warn("Status server failed", "error", err)
				}
			})
		}
	}

	slog.Info("Waiting for the next track, press Ctrl+C to stop")
	<-runCtx.Done()

	slog.Info("Shutting down ...", "app", AppName)
	if err := mpris.Close(); err != nil {
		slog.Debug("Failed to close player connection", "error", err)
	}
	coord.Shutdown()
	launcher.Shutdown()
	coord.Wait()
	background.Wait()

	slog.Info("Bye", "session_id", sessionID, "captured", len(launcher.Registry().Captured()))
	return nil
}

// engineFor applies the configured binaries and codec to the fixed stereo
// 44.1 kHz capture format
func engineFor(cfg *config.Config) capture.Engine {
	engine := capture.DefaultEngine()
	engine.SinkName = cfg.Audio.SinkName
	engine.Binary = cfg.Audio.FFmpegBinary
	engine.FragmentSize = cfg.Audio.FragmentSize
	engine.Codec = cfg.Audio.Codec
	engine.Extension = cfg.Audio.Extension
	return engine
}

func coverArtFunc(cfg *config.Config) capture.CoverArtFunc {
	if !cfg.Output.AddCoverArt {
		return nil
	}
	embedder := coverart.New(coverart.Options{
		FFmpegBinary: cfg.Audio.FFmpegBinary,
		UserAgent:    strings.ToLower(AppName),
	})
	return embedder.Embed
}

func historyRecorder(store *history.Store, sessionID string) func(capture.Result) {
	if store == nil {
		return nil
	}
	return func(r capture.Result) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := store.Record(ctx, history.Entry{
			SessionID:  sessionID,
			TrackID:    string(r.TrackID),
			Title:      r.Title,
			Path:       r.Path,
			Duration:   r.Duration,
			CapturedAt: r.FinishedAt,
		})
		if err != nil {
			slog.Warn("Failed to record capture history", "path", r.Path, "error", err)
		}
	}
}
