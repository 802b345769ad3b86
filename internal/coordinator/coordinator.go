package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/audiolibrelab/spotcapture/internal/capture"
	"github.com/audiolibrelab/spotcapture/internal/naming"
	"github.com/audiolibrelab/spotcapture/internal/player"
)

// Phase is the coordinator's externally visible state
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhaseAwaitingAlignment Phase = "AWAITING_ALIGNMENT"
	PhaseRecording         Phase = "RECORDING"
	PhaseStopping          Phase = "STOPPING"
)

// Commander sends transport commands to the player
type Commander interface {
	Send(ctx context.Context, cmd player.Command) error
}

// TrackSource exposes the player state last observed by the monitor
type TrackSource interface {
	CurrentTrackID() player.TrackID
	Status() player.PlaybackStatus
}

// Config holds the timing and output settings of the coordinator
type Config struct {
	OutputDir  string
	SeekDelay  time.Duration
	SkipDelay  time.Duration
	PreRoll    time.Duration
	PostRoll   time.Duration
	UseCounter bool
}

// DefaultConfig returns the standard delays
func DefaultConfig() Config {
	return Config{
		SeekDelay: 5 * time.Second,
		SkipDelay: 1 * time.Second,
		PreRoll:   250 * time.Millisecond,
		PostRoll:  1250 * time.Millisecond,
	}
}

// Options wires a Coordinator to its collaborators
type Options struct {
	Config   Config
	Player   Commander
	Tracks   TrackSource
	Launcher *capture.Launcher

	// InitRouting runs once, the first time the player reports Playing
	InitRouting func(ctx context.Context) error
	// OnShutdown is called once when the player stops on its own
	OnShutdown func()

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Snapshot is a point-in-time view of the coordinator
type Snapshot struct {
	Phase    Phase                     `json:"phase"`
	Trigger  *player.Track             `json:"trigger,omitempty"`
	Live     []capture.Info            `json:"live"`
	Captured map[player.TrackID]string `json:"captured"`
	Counter  int                       `json:"counter,omitempty"`
}

// Coordinator reacts to player events: it supersedes running captures,
// aligns playback to the start of the new track and launches a capture
type Coordinator struct {
	cfg         Config
	player      Commander
	tracks      TrackSource
	launcher    *capture.Launcher
	registry    *capture.Registry
	initRouting func(ctx context.Context) error
	onShutdown  func()
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	trigger    *player.Track
	pending    int
	selfPaused bool
	counter    int
	advanced   map[player.TrackID]int // counter increments not yet claimed by a track change
	shutdown   bool
	routed     bool

	wg conc.WaitGroup
}

// New creates a coordinator
func New(opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Coordinator{
		cfg:         opts.Config,
		player:      opts.Player,
		tracks:      opts.Tracks,
		launcher:    opts.Launcher,
		registry:    opts.Launcher.Registry(),
		initRouting: opts.InitRouting,
		onShutdown:  opts.OnShutdown,
		now:         opts.Now,
		sleep:       opts.Sleep,
		counter:     1,
		advanced:    make(map[player.TrackID]int),
	}
}

// Run consumes events until ctx is cancelled or events is closed
func (c *Coordinator) Run(ctx context.Context, events <-chan player.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Handle(ctx, ev)
		}
	}
}

// Handle processes a single event. Timed work is started in the background.
func (c *Coordinator) Handle(ctx context.Context, ev player.Event) {
	switch e := ev.(type) {
	case player.TrackChanged:
		c.onTrackChanged(ctx, e.Track)
	case player.StateChanged:
		c.onStateChanged(ctx, e.Status)
	}
}

// Wait blocks until all background sequences have finished
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops the coordinator from starting new work
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
}

// TrackNumber returns the internal counter
func (c *Coordinator) TrackNumber() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Advance increments the internal counter for a new track unless it is an
// advertisement or was already captured
func (c *Coordinator) Advance(t player.Track) {
	if t.IsAd || c.registry.Contains(t.ID) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	c.advanced[t.ID]++
}

// claimAdvance consumes the increment Advance made for the change to id.
// The caller holds c.mu.
func (c *Coordinator) claimAdvance(id player.TrackID) bool {
	n := c.advanced[id]
	if n == 0 {
		return false
	}
	if n == 1 {
		delete(c.advanced, id)
	} else {
		c.advanced[id] = n - 1
	}
	return true
}

func (c *Coordinator) undoAdvance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter--
}

func (c *Coordinator) onTrackChanged(ctx context.Context, t player.Track) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	trigger := t
	c.trigger = &trigger
	c.pending++
	advanced := c.claimAdvance(t.ID)
	c.mu.Unlock()

	slog.Info("Song changed", "name", t.Name, "track_id", t.ID, "is_ad", t.IsAd)

	for _, p := range c.registry.Live() {
		c.wg.Go(func() { c.stopCapture(ctx, p) })
	}

	c.wg.Go(func() {
		defer c.finishSequence()
		c.align(ctx, trigger, advanced)
	})
}

func (c *Coordinator) finishSequence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending--
}

// stopCapture marks a superseded capture as captured when it ran long
// enough, keeps recording for the post-roll and then stops it. A post-roll
// cut short by shutdown leaves the process to the launcher, which discards it.
func (c *Coordinator) stopCapture(ctx context.Context, p *capture.Process) {
	elapsed := c.now().Sub(p.StartTime())
	if c.registry.MarkCaptured(p.TrackID(), p.Title(), elapsed) {
		slog.Info("Recording finished", "name", p.Title(), "duration", elapsed.Round(time.Millisecond))
	} else {
		slog.Debug("Capture too short to count", "name", p.Title(), "duration", elapsed.Round(time.Millisecond))
	}

	if err := c.sleep(ctx, c.cfg.PostRoll); err != nil {
		slog.Debug("Post-roll interrupted, leaving capture to shutdown", "name", p.Title())
		return
	}

	if err := p.Stop(); err != nil {
		slog.Warn("Failed to finalize capture", "name", p.Title(), "error", err)
	}
}

// align waits for the seek delay, re-validates the trigger and, if it is
// still current, rewinds the player and starts a capture. advanced reports
// whether this change incremented the internal counter.
func (c *Coordinator) align(ctx context.Context, t player.Track, advanced bool) {
	if err := c.sleep(ctx, c.cfg.SeekDelay); err != nil {
		return
	}

	ck := check{
		superseded: c.tracks.CurrentTrackID() != t.ID,
		looped:     c.registry.Contains(t.ID),
		playing:    c.tracks.Status() == player.StatusPlaying,
		ad:         t.IsAd,
	}
	c.mu.Lock()
	ck.shuttingDown = c.shutdown
	ck.selfPaused = c.selfPaused
	c.mu.Unlock()

	outcome := decide(ck)
	slog.Debug("Track change validated", "name", t.Name, "outcome", outcome)

	switch outcome {
	case OutcomeCancelled, OutcomeRace, OutcomeIdlePause:
		return
	case OutcomeLoop:
		if c.cfg.UseCounter && advanced {
			c.undoAdvance()
		}
		slog.Info("Player started looping over a song, skipping", "name", t.Name)
		if err := c.sleep(ctx, c.cfg.SkipDelay); err != nil {
			return
		}
		c.send(ctx, player.CommandNext)
	case OutcomeShutdown:
		slog.Info("Player is paused, the album or playlist may have ended")
		c.requestShutdown()
	case OutcomeAd:
		slog.Info("Skipping ad", "track_id", t.ID)
	case OutcomeRecord:
		c.record(ctx, t)
	}
}

func (c *Coordinator) record(ctx context.Context, t player.Track) {
	slog.Info("Starting recording", "name", t.Name)

	c.setSelfPaused(true)
	c.send(ctx, player.CommandPause)

	subdir, base := naming.Split(t.Name)
	outDir := filepath.Join(c.cfg.OutputDir, subdir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		c.setSelfPaused(false)
		slog.Error("Failed to create output directory", "path", outDir, "error", err)
		c.send(ctx, player.CommandPlay)
		return
	}

	c.setSelfPaused(false)
	c.send(ctx, player.CommandPrevious)

	p, err := c.launcher.Launch(capture.Spec{
		TrackID:  t.ID,
		Title:    t.Name,
		OutDir:   outDir,
		BaseName: base,
		Tags:     Tags(t),
		ArtURL:   t.Metadata.ArtURL,
	})
	if err != nil {
		slog.Error("Failed to start capture", "name", t.Name, "error", err)
		c.send(ctx, player.CommandPlay)
		return
	}

	// give the recorder time to open the source before playback resumes
	if err := c.sleep(ctx, c.cfg.PreRoll); err != nil {
		slog.Debug("Pre-roll interrupted", "pid", p.Pid())
	}
	c.send(ctx, player.CommandPlay)
}

// Tags returns the metadata written into the capture of t
func Tags(t player.Track) []capture.Tag {
	return []capture.Tag{
		{Key: "artist", Value: t.Metadata.Artist},
		{Key: "album", Value: t.Metadata.Album},
		{Key: "track", Value: strings.TrimLeft(t.Number, "0")},
		{Key: "title", Value: t.Metadata.Title},
	}
}

func (c *Coordinator) onStateChanged(ctx context.Context, status player.PlaybackStatus) {
	slog.Info("State changed", "status", status)

	if status != player.StatusPlaying {
		return
	}

	c.mu.Lock()
	first := !c.routed
	c.routed = true
	c.mu.Unlock()

	if first && c.initRouting != nil {
		// locating the player stream retries for a while
		c.wg.Go(func() {
			slog.Debug("Initializing audio routing")
			if err := c.initRouting(ctx); err != nil {
				slog.Warn("Failed to route player audio", "error", err)
			}
		})
	}
}

func (c *Coordinator) requestShutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.mu.Unlock()

	if c.onShutdown != nil {
		c.onShutdown()
	}
}

func (c *Coordinator) setSelfPaused(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfPaused = v
}

func (c *Coordinator) send(ctx context.Context, cmd player.Command) {
	if err := c.player.Send(ctx, cmd); err != nil {
		slog.Warn("Player command failed", "command", cmd, "error", err)
	}
}

// Phase derives the current phase from pending sequences and live captures
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	pending := c.pending
	var current player.TrackID
	if c.trigger != nil {
		current = c.trigger.ID
	}
	c.mu.Unlock()

	if pending > 0 {
		return PhaseAwaitingAlignment
	}

	live := c.registry.Live()
	for _, p := range live {
		if p.TrackID() == current {
			return PhaseRecording
		}
	}
	if len(live) > 0 {
		return PhaseStopping
	}
	return PhaseIdle
}

// Snapshot returns the coordinator state for reporting
func (c *Coordinator) Snapshot() Snapshot {
	s := Snapshot{
		Phase:    c.Phase(),
		Captured: c.registry.Captured(),
	}

	c.mu.Lock()
	if c.trigger != nil {
		t := *c.trigger
		s.Trigger = &t
	}
	if c.cfg.UseCounter {
		s.Counter = c.counter
	}
	c.mu.Unlock()

	for _, p := range c.registry.Live() {
		s.Live = append(s.Live, p.Info())
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
