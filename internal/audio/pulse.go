package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxVolume is the pulse volume value for 100%
const MaxVolume = 65536

// ErrStreamNotFound is returned when no sink input belongs to the application
var ErrStreamNotFound = errors.New("no audio stream found")

// CommandFunc runs an external command and returns its standard output
type CommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Stream is a pulse sink input
type Stream struct {
	Index           int               `json:"index"`
	Sink            string            `json:"sink"`
	ApplicationName string            `json:"application_name"`
	MediaName       string            `json:"media_name"`
	Properties      map[string]string `json:"properties"`
}

// RouterConfig configures a PulseRouter
type RouterConfig struct {
	Binary     string
	SinkName   string
	Mute       bool
	SampleRate int
	Channels   int
	Retries    int
	RetryDelay time.Duration
	Run        CommandFunc
}

// PulseRouter manages the capture sink and moves the player's stream into it
type PulseRouter struct {
	binary     string
	sinkName   string
	mute       bool
	sampleRate int
	channels   int
	retries    int
	retryDelay time.Duration
	run        CommandFunc

	mu       sync.Mutex
	moduleID string
}

// NewPulseRouter creates a router using pactl
func NewPulseRouter(cfg RouterConfig) *PulseRouter {
	if cfg.Binary == "" {
		cfg.Binary = "pactl"
	}
	if cfg.SinkName == "" {
		cfg.SinkName = "spotrec"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Run == nil {
		cfg.Run = runCommand
	}

	return &PulseRouter{
		binary:     cfg.Binary,
		sinkName:   cfg.SinkName,
		mute:       cfg.Mute,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		run:        cfg.Run,
	}
}

// runCommand executes the command with C locale so output is parseable
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, err
	}
	return out, nil
}

// SinkName returns the name of the capture sink
func (r *PulseRouter) SinkName() string {
	return r.sinkName
}

// CreateSink loads the capture sink module. A muted sink is a null sink;
// otherwise a remap sink forwards audio to the default output.
func (r *PulseRouter) CreateSink(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.moduleID != "" {
		return nil
	}

	args := []string{"load-module"}
	if r.mute {
		args = append(args, "module-null-sink")
	} else {
		args = append(args, "module-remap-sink")
	}
	args = append(args,
		"sink_name="+r.sinkName,
		"sink_properties=device.description="+r.sinkName,
		"rate="+strconv.Itoa(r.sampleRate),
		"channels="+strconv.Itoa(r.channels),
	)
	if !r.mute {
		args = append(args, "remix=no")
	}

	slog.Info("Creating pulse sink", "sink", r.sinkName, "muted", r.mute)
	out, err := r.run(ctx, r.binary, args...)
	if err != nil {
		return fmt.Errorf("failed to create sink %s: %w", r.sinkName, err)
	}

	r.moduleID = strings.TrimSpace(string(out))
	slog.Debug("Pulse sink created", "sink", r.sinkName, "module", r.moduleID)
	return nil
}

// DestroySink unloads the module loaded by CreateSink
func (r *PulseRouter) DestroySink(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.moduleID == "" {
		return nil
	}

	slog.Info("Unloading pulse sink", "sink", r.sinkName)
	if _, err := r.run(ctx, r.binary, "unload-module", r.moduleID); err != nil {
		return fmt.Errorf("failed to unload sink module %s: %w", r.moduleID, err)
	}
	r.moduleID = ""
	return nil
}

// ListStreams returns all sink inputs
func (r *PulseRouter) ListStreams(ctx context.Context) ([]Stream, error) {
	out, err := r.run(ctx, r.binary, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("failed to list sink inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

// LocateStream finds the sink input of the named application, retrying
// while the application has not opened its stream yet
func (r *PulseRouter) LocateStream(ctx context.Context, application string) (int, error) {
	for attempt := 1; attempt <= r.retries; attempt++ {
		streams, err := r.ListStreams(ctx)
		if err != nil {
			slog.Debug("Listing streams failed", "attempt", attempt, "error", err)
		} else if s, ok := findStream(streams, application); ok {
			slog.Debug("Found application stream", "application", application, "index", s.Index, "attempt", attempt)
			return s.Index, nil
		} else {
			slog.Debug("Application stream not yet available", "application", application, "attempt", attempt)
		}

		if attempt < r.retries {
			select {
			case <-ctx.Done():
				return -1, ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
	}
	return -1, fmt.Errorf("%w for %s after %d attempts", ErrStreamNotFound, application, r.retries)
}

// MoveStream moves the sink input into the capture sink
func (r *PulseRouter) MoveStream(ctx context.Context, index int) error {
	if _, err := r.run(ctx, r.binary, "move-sink-input", strconv.Itoa(index), r.sinkName); err != nil {
		return fmt.Errorf("failed to move stream %d to %s: %w", index, r.sinkName, err)
	}
	return nil
}

// SetStreamVolume sets the volume of a sink input
func (r *PulseRouter) SetStreamVolume(ctx context.Context, index, volume int) error {
	if _, err := r.run(ctx, r.binary, "set-sink-input-volume", strconv.Itoa(index), strconv.Itoa(volume)); err != nil {
		return fmt.Errorf("failed to set volume of stream %d: %w", index, err)
	}
	return nil
}

// SetSinkVolume sets the volume of the capture sink
func (r *PulseRouter) SetSinkVolume(ctx context.Context, volume int) error {
	if _, err := r.run(ctx, r.binary, "set-sink-volume", r.sinkName, strconv.Itoa(volume)); err != nil {
		return fmt.Errorf("failed to set volume of sink %s: %w", r.sinkName, err)
	}
	return nil
}

// RouteApplication locates the application's stream, sets the stream and
// sink volumes to 100% and moves the stream into the capture sink
func (r *PulseRouter) RouteApplication(ctx context.Context, application string) error {
	index, err := r.LocateStream(ctx, application)
	if err != nil {
		return err
	}

	slog.Debug("Setting volumes to 100%", "stream", index, "sink", r.sinkName)
	if err := r.SetStreamVolume(ctx, index, MaxVolume); err != nil {
		slog.Warn("Failed to set stream volume", "error", err)
	}
	if err := r.SetSinkVolume(ctx, MaxVolume); err != nil {
		slog.Warn("Failed to set sink volume", "error", err)
	}

	if err := r.MoveStream(ctx, index); err != nil {
		return err
	}
	slog.Info("Moved player to capture sink", "application", application, "stream", index, "sink", r.sinkName)
	return nil
}

func findStream(streams []Stream, application string) (Stream, bool) {
	for _, s := range streams {
		if strings.EqualFold(s.ApplicationName, application) {
			return s, true
		}
	}
	return Stream{}, false
}

// parseSinkInputs parses the output of `pactl list sink-inputs`
func parseSinkInputs(out string) []Stream {
	var streams []Stream
	var cur *Stream

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// block header, e.g. "Sink Input #42"
		if line[0] != ' ' && line[0] != '\t' {
			if i := strings.LastIndex(line, "#"); i >= 0 {
				index, err := strconv.Atoi(strings.TrimSpace(line[i+1:]))
				if err != nil {
					cur = nil
					continue
				}
				streams = append(streams, Stream{Index: index, Properties: map[string]string{}})
				cur = &streams[len(streams)-1]
			}
			continue
		}
		if cur == nil {
			continue
		}

		if key, value, ok := strings.Cut(trimmed, " = "); ok {
			value = strings.Trim(value, `"`)
			cur.Properties[key] = value
			switch key {
			case "application.name":
				cur.ApplicationName = value
			case "media.name":
				cur.MediaName = value
			}
			continue
		}
		if value, ok := strings.CutPrefix(trimmed, "Sink:"); ok {
			cur.Sink = strings.TrimSpace(value)
		}
	}
	return streams
}
