package player

import (
	"context"
	"errors"
	"strings"
)

// ErrConnection is returned when the controlled player cannot be reached
var ErrConnection = errors.New("player unreachable")

// TrackID is the opaque identifier the player reports for a track instance
type TrackID string

// PlaybackStatus represents the player's transport state
type PlaybackStatus string

const (
	StatusPlaying PlaybackStatus = "Playing"
	StatusPaused  PlaybackStatus = "Paused"
	StatusStopped PlaybackStatus = "Stopped"
)

// ParsePlaybackStatus maps an MPRIS status string to a PlaybackStatus.
// Unknown values are treated as stopped.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch PlaybackStatus(s) {
	case StatusPlaying, StatusPaused, StatusStopped:
		return PlaybackStatus(s)
	default:
		return StatusStopped
	}
}

// Command is a transport command understood by the player
type Command string

const (
	CommandPlay     Command = "Play"
	CommandPause    Command = "Pause"
	CommandPrevious Command = "Previous"
	CommandNext     Command = "Next"
)

// Metadata describes the track the player currently exposes
type Metadata struct {
	TrackID     TrackID `json:"track_id"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	Title       string  `json:"title"`
	TrackNumber int     `json:"track_number"`
	ArtURL      string  `json:"art_url,omitempty"`
}

// Controller is the control channel to the player: transport commands,
// property queries and change notifications
type Controller interface {
	Send(ctx context.Context, cmd Command) error
	PlaybackStatus(ctx context.Context) (PlaybackStatus, error)
	Metadata(ctx context.Context) (Metadata, error)

	// Subscribe returns a channel that receives a value whenever the
	// player reports changed properties. It is closed by Close.
	Subscribe() (<-chan struct{}, error)
	Close() error
}

// DefaultAdPrefixes are the track id prefixes Spotify uses for advertisements
var DefaultAdPrefixes = []string{"spotify:ad:", "/com/spotify/ad"}

// IsAdvertisement reports whether the id starts with one of the prefixes
func IsAdvertisement(id TrackID, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(string(id), prefix) {
			return true
		}
	}
	return false
}

// Track is the monitor's view of the current track
type Track struct {
	ID       TrackID  `json:"id"`
	Metadata Metadata `json:"metadata"`
	// Number is the zero-padded track number used for naming
	Number string `json:"number"`
	// Name is the formatted output name, possibly containing sub directories
	Name string `json:"name"`
	IsAd bool   `json:"is_ad"`
}

// Event is emitted by the Monitor
type Event interface {
	event()
}

// TrackChanged is emitted when the player's track identity changes
type TrackChanged struct {
	Track Track
}

// StateChanged is emitted when the player's playback status changes
type StateChanged struct {
	Previous PlaybackStatus
	Status   PlaybackStatus
}

func (TrackChanged) event() {}
func (StateChanged) event() {}
