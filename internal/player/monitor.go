package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/spotcapture/internal/naming"
)

// Counter supplies the internal track counter used for naming when
// counter-based numbering is enabled. Advance is called once per observed
// track change, after the new track's name was built.
type Counter interface {
	TrackNumber() int
	Advance(t Track)
}

// MonitorOptions configures a Monitor
type MonitorOptions struct {
	Formatter  *naming.Formatter
	AdPrefixes []string
	UseCounter bool
}

// Monitor turns player change notifications into TrackChanged and
// StateChanged events. It is the only place player state is diffed.
type Monitor struct {
	ctrl       Controller
	formatter  *naming.Formatter
	adPrefixes []string
	useCounter bool

	mu      sync.RWMutex
	counter Counter
	track   Track
	status  PlaybackStatus
}

// NewMonitor creates a monitor for the given controller
func NewMonitor(ctrl Controller, opts MonitorOptions) *Monitor {
	prefixes := opts.AdPrefixes
	if len(prefixes) == 0 {
		prefixes = DefaultAdPrefixes
	}
	formatter := opts.Formatter
	if formatter == nil {
		formatter, _ = naming.NewFormatter(naming.DefaultPattern, false)
	}
	return &Monitor{
		ctrl:       ctrl,
		formatter:  formatter,
		adPrefixes: prefixes,
		useCounter: opts.UseCounter,
		status:     StatusStopped,
	}
}

// UseCounter sets the counter consulted when names are built
func (m *Monitor) UseCounter(c Counter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = c
}

// Initialize reads the player's current track and status
func (m *Monitor) Initialize(ctx context.Context) error {
	md, err := m.ctrl.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to read initial metadata: %w", err)
	}
	status, err := m.ctrl.PlaybackStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read initial playback status: %w", err)
	}

	m.mu.Lock()
	m.track = m.buildTrack(md)
	m.status = status
	track := m.track
	m.mu.Unlock()

	slog.Info("Current song", "name", track.Name, "is_ad", track.IsAd)
	slog.Info("Current state", "status", status)
	return nil
}

// Current returns the last observed track
func (m *Monitor) Current() Track {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.track
}

// CurrentTrackID returns the last observed track identity
func (m *Monitor) CurrentTrackID() TrackID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.track.ID
}

// Status returns the last observed playback status
func (m *Monitor) Status() PlaybackStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run subscribes to player notifications and forwards derived events to out
// until ctx is cancelled or the notification channel closes. Events are
// delivered in the order they were observed.
func (m *Monitor) Run(ctx context.Context, out chan<- Event) error {
	notifications, err := m.ctrl.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to player: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-notifications:
			if !ok {
				slog.Debug("Player notification channel closed")
				return nil
			}
			for _, ev := range m.Refresh(ctx) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// Refresh re-reads the player and returns the events implied by the
// difference to the previous observation. A track change is reported
// before a status change.
func (m *Monitor) Refresh(ctx context.Context) []Event {
	md, err := m.ctrl.Metadata(ctx)
	if err != nil {
		slog.Warn("Failed to read player metadata", "error", err)
		return nil
	}
	status, err := m.ctrl.PlaybackStatus(ctx)
	if err != nil {
		slog.Warn("Failed to read playback status", "error", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	if md.TrackID != m.track.ID {
		m.track = m.buildTrack(md)
		if m.useCounter && m.counter != nil {
			m.counter.Advance(m.track)
		}
		slog.Debug("Track changed", "track_id", m.track.ID, "name", m.track.Name, "is_ad", m.track.IsAd)
		events = append(events, TrackChanged{Track: m.track})
	}
	if status != m.status {
		prev := m.status
		m.status = status
		slog.Debug("Playback status changed", "from", prev, "to", status)
		events = append(events, StateChanged{Previous: prev, Status: status})
	}
	return events
}

// buildTrack derives naming fields for md. Caller holds m.mu.
func (m *Monitor) buildTrack(md Metadata) Track {
	number := naming.TrackNumber(md.TrackNumber)
	if m.useCounter && m.counter != nil {
		number = naming.CounterNumber(m.counter.TrackNumber())
	}
	return Track{
		ID:       md.TrackID,
		Metadata: md,
		Number:   number,
		Name: m.formatter.Format(naming.Fields{
			Artist:      md.Artist,
			Album:       md.Album,
			TrackNumber: number,
			Title:       md.Title,
		}),
		IsAd: IsAdvertisement(md.TrackID, m.adPrefixes),
	}
}
