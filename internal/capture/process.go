package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
	"golang.org/x/sys/unix"

	"github.com/audiolibrelab/spotcapture/internal/player"
)

var (
	// ErrTempFileMissing is returned by Stop when the recorder exited cleanly
	// but left no file to finalize
	ErrTempFileMissing = errors.New("capture file missing")

	// ErrStopTimeout is returned by Stop when the recorder had to be killed
	ErrStopTimeout = errors.New("recorder did not stop in time")
)

// State represents the lifecycle state of a capture process
type State string

const (
	StateRecording State = "RECORDING"
	StateStopping  State = "STOPPING"
	StateFinalized State = "FINALIZED"
	StateKilled    State = "KILLED"
)

// Result describes a finalized capture
type Result struct {
	TrackID    player.TrackID
	Title      string
	Path       string
	Duration   time.Duration
	FinishedAt time.Time
}

// CoverArtFunc embeds the artwork referenced by ref into the file at path
type CoverArtFunc func(ctx context.Context, path, ref string) error

// Spec describes a capture to launch
type Spec struct {
	TrackID  player.TrackID
	Title    string
	OutDir   string
	BaseName string
	Tags     []Tag
	ArtURL   string
}

// LauncherConfig configures a Launcher
type LauncherConfig struct {
	Engine      Engine
	Runner      Runner
	Registry    *Registry
	StopTimeout time.Duration

	// CoverArt is called asynchronously after a successful finalize when
	// the capture has an art reference. Nil disables cover art.
	CoverArt CoverArtFunc

	// OnFinalized is called after a capture file has been renamed into place
	OnFinalized func(Result)

	Now func() time.Time
}

// Launcher spawns capture processes and owns their background jobs
type Launcher struct {
	engine      Engine
	runner      Runner
	registry    *Registry
	stopTimeout time.Duration
	coverArt    CoverArtFunc
	onFinalized func(Result)
	now         func() time.Time

	// lifecycle orders Launch against Shutdown so no process is spawned
	// after the live set has been collected
	lifecycle    sync.Mutex
	shuttingDown atomic.Bool
	jobs         conc.WaitGroup
	jobCtx       context.Context
	cancelJobs   context.CancelFunc
}

// NewLauncher creates a launcher
func NewLauncher(cfg LauncherConfig) *Launcher {
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(0)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Engine.Binary == "" {
		cfg.Engine = DefaultEngine()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		engine:      cfg.Engine,
		runner:      cfg.Runner,
		registry:    cfg.Registry,
		stopTimeout: cfg.StopTimeout,
		coverArt:    cfg.CoverArt,
		onFinalized: cfg.OnFinalized,
		now:         cfg.Now,
		jobCtx:      ctx,
		cancelJobs:  cancel,
	}
}

// Registry returns the registry processes are tracked in
func (l *Launcher) Registry() *Registry {
	return l.registry
}

// Launch starts the recorder for spec and registers it as live
func (l *Launcher) Launch(spec Spec) (*Process, error) {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()

	if l.shuttingDown.Load() {
		return nil, fmt.Errorf("launcher is shutting down")
	}

	tempName := l.engine.TempName(spec.BaseName)
	cmd := l.engine.RecordCommand(filepath.Join(spec.OutDir, tempName), spec.Tags)

	slog.Debug("Starting recorder", "command", cmd.String())
	handle, err := l.runner.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start recorder for %s: %w", spec.Title, err)
	}

	p := &Process{
		launcher:  l,
		trackID:   spec.TrackID,
		title:     spec.Title,
		artURL:    spec.ArtURL,
		startTime: l.now(),
		outDir:    spec.OutDir,
		tempName:  tempName,
		finalName: l.engine.FinalName(spec.BaseName),
		handle:    handle,
		state:     StateRecording,
	}
	l.registry.Add(p)

	slog.Info("Capture started", "track_id", spec.TrackID, "title", spec.Title, "pid", handle.Pid())
	return p, nil
}

// BeginShutdown refuses new launches and makes every later Stop discard
// its capture instead of finalizing it. Processes keep running until
// Shutdown.
func (l *Launcher) BeginShutdown() {
	l.lifecycle.Lock()
	defer l.lifecycle.Unlock()
	l.shuttingDown.Store(true)
}

// Shutdown marks the launcher as shutting down, stops every live process
// without finalizing, cancels pending cover art jobs and waits for them
func (l *Launcher) Shutdown() {
	l.BeginShutdown()

	live := l.registry.Live()
	if len(live) > 0 {
		slog.Info("Stopping live captures", "count", len(live))
	}
	iter.ForEach(live, func(p **Process) {
		if err := (*p).Stop(); err != nil && !errors.Is(err, ErrStopTimeout) {
			slog.Debug("Capture stop during shutdown", "track_id", (*p).trackID, "error", err)
		}
	})

	l.cancelJobs()
	l.jobs.Wait()
}

// ShuttingDown reports whether BeginShutdown or Shutdown was called
func (l *Launcher) ShuttingDown() bool {
	return l.shuttingDown.Load()
}

// Wait blocks until background jobs such as cover art embedding are done
func (l *Launcher) Wait() {
	l.jobs.Wait()
}

// Process is one recorder invocation targeting one track
type Process struct {
	launcher *Launcher

	trackID   player.TrackID
	title     string
	artURL    string
	startTime time.Time
	outDir    string
	tempName  string
	finalName string
	handle    Handle

	mu    sync.Mutex
	state State
}

// Info is a snapshot of a process for reporting
type Info struct {
	TrackID   player.TrackID `json:"track_id"`
	Title     string         `json:"title"`
	Pid       int            `json:"pid"`
	State     State          `json:"state"`
	StartTime time.Time      `json:"start_time"`
	Elapsed   time.Duration  `json:"elapsed"`
	Path      string         `json:"path"`
}

func (p *Process) TrackID() player.TrackID { return p.trackID }
func (p *Process) Title() string           { return p.title }
func (p *Process) StartTime() time.Time    { return p.startTime }
func (p *Process) Pid() int                { return p.handle.Pid() }

// TempPath is the hidden file the recorder writes to
func (p *Process) TempPath() string {
	return filepath.Join(p.outDir, p.tempName)
}

// FinalPath is where the capture ends up after finalize
func (p *Process) FinalPath() string {
	return filepath.Join(p.outDir, p.finalName)
}

// State returns the current lifecycle state
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns a snapshot for reporting
func (p *Process) Info() Info {
	return Info{
		TrackID:   p.trackID,
		Title:     p.title,
		Pid:       p.Pid(),
		State:     p.State(),
		StartTime: p.startTime,
		Elapsed:   p.launcher.now().Sub(p.startTime),
		Path:      p.TempPath(),
	}
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Stop terminates the recorder and finalizes the capture. Only the first
// call does anything; later calls return nil immediately.
func (p *Process) Stop() error {
	if !p.launcher.registry.Remove(p) {
		return nil
	}
	p.setState(StateStopping)

	stoppedAt := p.launcher.now()
	slog.Debug("Stopping capture", "track_id", p.trackID, "pid", p.Pid())

	if err := p.handle.Signal(unix.SIGTERM); err != nil {
		slog.Debug("Failed to signal recorder", "pid", p.Pid(), "error", err)
	}

	timer := time.NewTimer(p.launcher.stopTimeout)
	defer timer.Stop()

	select {
	case <-p.handle.Done():
	case <-timer.C:
		slog.Warn("Recorder did not exit within timeout, killing", "track_id", p.trackID, "pid", p.Pid())
		if err := p.handle.Kill(); err != nil {
			slog.Debug("Failed to kill recorder", "pid", p.Pid(), "error", err)
		}
		<-p.handle.Done()
		p.setState(StateKilled)
		return ErrStopTimeout
	}

	if p.launcher.ShuttingDown() {
		p.setState(StateKilled)
		slog.Debug("Capture discarded during shutdown", "track_id", p.trackID, "path", p.TempPath())
		return nil
	}

	// ffmpeg exits with 255 after handling a termination signal
	code := p.handle.ExitCode()
	if code != 0 && code != 255 {
		p.setState(StateKilled)
		return fmt.Errorf("recorder for %s exited with code %d", p.title, code)
	}

	return p.finalize(stoppedAt)
}

// StopAsync runs Stop on a background job of the launcher
func (p *Process) StopAsync() {
	p.launcher.jobs.Go(func() {
		if err := p.Stop(); err != nil {
			slog.Warn("Failed to stop capture", "track_id", p.trackID, "error", err)
		}
	})
}

func (p *Process) finalize(stoppedAt time.Time) error {
	defer p.setState(StateFinalized)

	tempPath := p.TempPath()
	if _, err := os.Stat(tempPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrTempFileMissing, tempPath)
	}

	finalPath := p.FinalPath()
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to finalize capture: %w", err)
	}
	slog.Info("Capture saved", "track_id", p.trackID, "path", finalPath)

	if p.launcher.onFinalized != nil {
		p.launcher.onFinalized(Result{
			TrackID:    p.trackID,
			Title:      p.title,
			Path:       finalPath,
			Duration:   stoppedAt.Sub(p.startTime),
			FinishedAt: p.launcher.now(),
		})
	}

	if p.launcher.coverArt != nil && p.artURL != "" {
		ctx := p.launcher.jobCtx
		art := p.artURL
		p.launcher.jobs.Go(func() {
			if err := p.launcher.coverArt(ctx, finalPath, art); err != nil {
				slog.Warn("Failed to add cover art", "path", finalPath, "error", err)
			}
		})
	}

	return nil
}
