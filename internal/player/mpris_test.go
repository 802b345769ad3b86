package player

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestParseMetadata(t *testing.T) {
	raw := map[string]dbus.Variant{
		"mpris:trackid":     dbus.MakeVariant(dbus.ObjectPath("/com/spotify/track/4uLU6hMCjMI75M1A2tKUQC")),
		"xesam:artist":      dbus.MakeVariant([]string{"Simon", "Garfunkel"}),
		"xesam:album":       dbus.MakeVariant("Bookends"),
		"xesam:title":       dbus.MakeVariant("America"),
		"xesam:trackNumber": dbus.MakeVariant(int32(7)),
		"mpris:artUrl":      dbus.MakeVariant("https://open.spotify.com/image/ab67616d0000b273"),
	}

	md := parseMetadata(raw)

	if md.TrackID != "/com/spotify/track/4uLU6hMCjMI75M1A2tKUQC" {
		t.Errorf("Unexpected track id %q", md.TrackID)
	}
	if md.Artist != "Simon, Garfunkel" {
		t.Errorf("Expected joined artists, got %q", md.Artist)
	}
	if md.Album != "Bookends" || md.Title != "America" {
		t.Errorf("Unexpected album/title %q/%q", md.Album, md.Title)
	}
	if md.TrackNumber != 7 {
		t.Errorf("Expected track number 7, got %d", md.TrackNumber)
	}
	if md.ArtURL != "https://i.scdn.co/image/ab67616d0000b273" {
		t.Errorf("Expected rewritten art url, got %q", md.ArtURL)
	}
}

func TestParseMetadata_Missing(t *testing.T) {
	md := parseMetadata(map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant("spotify:ad:123"),
	})
	if md.TrackID != "spotify:ad:123" {
		t.Errorf("Unexpected track id %q", md.TrackID)
	}
	if md.Artist != "" || md.TrackNumber != 0 || md.ArtURL != "" {
		t.Errorf("Expected empty fields, got %+v", md)
	}
}

func TestParsePlaybackStatus(t *testing.T) {
	tests := map[string]PlaybackStatus{
		"Playing": StatusPlaying,
		"Paused":  StatusPaused,
		"Stopped": StatusStopped,
		"bogus":   StatusStopped,
	}
	for in, want := range tests {
		if got := ParsePlaybackStatus(in); got != want {
			t.Errorf("ParsePlaybackStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
