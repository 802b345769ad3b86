package player

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	DefaultBusName    = "org.mpris.MediaPlayer2.spotify"
	DefaultObjectPath = "/org/mpris/MediaPlayer2"

	playerInterface     = "org.mpris.MediaPlayer2.Player"
	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesChanged   = propertiesInterface + ".PropertiesChanged"

	openImagePrefix = "https://open.spotify.com/image/"
	cdnImagePrefix  = "https://i.scdn.co/image/"
)

// MPRIS controls a media player over the D-Bus session bus
type MPRIS struct {
	busName string
	path    dbus.ObjectPath

	conn *dbus.Conn
	obj  dbus.BusObject

	mu      sync.Mutex
	signals chan *dbus.Signal
	closed  bool
}

// DialMPRIS connects to the session bus and verifies that the player answers
func DialMPRIS(ctx context.Context, busName, objectPath string) (*MPRIS, error) {
	if busName == "" {
		busName = DefaultBusName
	}
	if objectPath == "" {
		objectPath = DefaultObjectPath
	}

	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: session bus: %v", ErrConnection, err)
	}

	m := &MPRIS{
		busName: busName,
		path:    dbus.ObjectPath(objectPath),
		conn:    conn,
		obj:     conn.Object(busName, dbus.ObjectPath(objectPath)),
	}

	if _, err := m.PlaybackStatus(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s is not running: %v", ErrConnection, busName, err)
	}

	slog.Debug("Connected to player", "bus_name", busName, "path", objectPath)
	return m, nil
}

// Send issues a transport command
func (m *MPRIS) Send(ctx context.Context, cmd Command) error {
	slog.Debug("Sending player command", "command", cmd)
	if err := m.obj.CallWithContext(ctx, playerInterface+"."+string(cmd), 0).Err; err != nil {
		return fmt.Errorf("player command %s failed: %w", cmd, err)
	}
	return nil
}

// PlaybackStatus queries the player's PlaybackStatus property
func (m *MPRIS) PlaybackStatus(ctx context.Context) (PlaybackStatus, error) {
	v, err := m.property(ctx, "PlaybackStatus")
	if err != nil {
		return StatusStopped, err
	}
	s, ok := v.Value().(string)
	if !ok {
		return StatusStopped, fmt.Errorf("unexpected PlaybackStatus type %s", v.Signature())
	}
	return ParsePlaybackStatus(s), nil
}

// Metadata queries the player's Metadata property
func (m *MPRIS) Metadata(ctx context.Context) (Metadata, error) {
	v, err := m.property(ctx, "Metadata")
	if err != nil {
		return Metadata{}, err
	}
	raw, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return Metadata{}, fmt.Errorf("unexpected Metadata type %s", v.Signature())
	}
	return parseMetadata(raw), nil
}

func (m *MPRIS) property(ctx context.Context, name string) (dbus.Variant, error) {
	var v dbus.Variant
	err := m.obj.CallWithContext(ctx, propertiesInterface+".Get", 0, playerInterface, name).Store(&v)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("failed to read player property %s: %w", name, err)
	}
	return v, nil
}

// Subscribe registers for PropertiesChanged signals of the player object.
// Bursts of signals are coalesced; consumers re-read state on each value.
func (m *MPRIS) Subscribe() (<-chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("player connection closed")
	}
	if m.signals != nil {
		return nil, fmt.Errorf("already subscribed")
	}

	err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(m.path),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchSender(m.busName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to player signals: %w", err)
	}

	m.signals = make(chan *dbus.Signal, 16)
	m.conn.Signal(m.signals)

	out := make(chan struct{}, 1)
	go func(signals chan *dbus.Signal) {
		defer close(out)
		for sig := range signals {
			if sig == nil || sig.Name != propertiesChanged || sig.Path != m.path {
				continue
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}(m.signals)

	slog.Info("Player listener started", "bus_name", m.busName)
	return out, nil
}

// Close unsubscribes from signals and closes the bus connection
func (m *MPRIS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.signals != nil {
		m.conn.RemoveSignal(m.signals)
		close(m.signals)
	}
	slog.Info("Player listener stopped")
	return m.conn.Close()
}

// parseMetadata converts the MPRIS metadata dictionary
func parseMetadata(raw map[string]dbus.Variant) Metadata {
	var md Metadata

	if v, ok := raw["mpris:trackid"]; ok {
		switch id := v.Value().(type) {
		case string:
			md.TrackID = TrackID(id)
		case dbus.ObjectPath:
			md.TrackID = TrackID(id)
		}
	}
	if v, ok := raw["xesam:artist"]; ok {
		switch artists := v.Value().(type) {
		case []string:
			md.Artist = strings.Join(artists, ", ")
		case string:
			md.Artist = artists
		}
	}
	md.Album = variantString(raw, "xesam:album")
	md.Title = variantString(raw, "xesam:title")
	if v, ok := raw["xesam:trackNumber"]; ok {
		md.TrackNumber = variantInt(v)
	}
	md.ArtURL = normalizeArtURL(variantString(raw, "mpris:artUrl"))

	return md
}

func variantString(raw map[string]dbus.Variant, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func variantInt(v dbus.Variant) int {
	switch n := v.Value().(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// normalizeArtURL rewrites Spotify's web image links to the CDN host that
// actually serves the image
func normalizeArtURL(u string) string {
	if strings.HasPrefix(u, openImagePrefix) {
		return cdnImagePrefix + strings.TrimPrefix(u, openImagePrefix)
	}
	return u
}
