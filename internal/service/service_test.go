package service

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/audiolibrelab/spotcapture/internal/capture"
	"github.com/audiolibrelab/spotcapture/internal/config"
	"github.com/audiolibrelab/spotcapture/internal/history"
)

func TestPrintIntro(t *testing.T) {
	var buf bytes.Buffer
	PrintIntro(&buf, "1.2.3", "/home/me/SpotCapture")

	out := buf.String()
	for _, want := range []string{
		"SpotCapture v1.2.3",
		"You should not pause, seek or change volume during recording!",
		"Existing files will be overridden!",
		"/home/me/SpotCapture",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected intro to contain %q, got:\n%s", want, out)
		}
	}
}

func TestDefaultLockPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := DefaultLockPath("spotrec"); got != "/run/user/1000/spotcapture-spotrec.lock" {
		t.Errorf("Unexpected lock path %s", got)
	}
}

func TestCheck_CreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Output:  config.OutputConfig{Directory: filepath.Join(dir, "out")},
		Audio:   config.AudioConfig{FFmpegBinary: "definitely-not-installed-ffmpeg", PactlBinary: ""},
		History: config.HistoryConfig{Enabled: true, Path: filepath.Join(dir, "state", "history.db")},
	}

	results := Check(cfg)
	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}
	if results[0].Passed || results[1].Passed {
		t.Errorf("Expected binary checks to fail, got %+v", results[:2])
	}
	if !results[2].Passed || !results[3].Passed {
		t.Errorf("Expected directory checks to pass, got %+v", results[2:])
	}
}

func TestHistoryRecorder(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if historyRecorder(nil, "x") != nil {
		t.Error("Expected nil recorder without a store")
	}

	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	record := historyRecorder(store, "session-1")
	record(capture.Result{
		TrackID:    "spotify:track:1",
		Title:      "01 - Artist - Song",
		Path:       "/music/01 - Artist - Song.flac",
		Duration:   3 * time.Minute,
		FinishedAt: finished,
	})

	entries, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SessionID != "session-1" || e.TrackID != "spotify:track:1" || e.Duration != 3*time.Minute {
		t.Errorf("Unexpected entry %+v", e)
	}
	if !e.CapturedAt.Equal(finished) {
		t.Errorf("Expected captured_at %s, got %s", finished, e.CapturedAt)
	}
}

func TestCoverArtFunc(t *testing.T) {
	cfg := &config.Config{}
	if coverArtFunc(cfg) != nil {
		t.Error("Expected no cover art function when disabled")
	}
	cfg.Output.AddCoverArt = true
	cfg.Audio.FFmpegBinary = "ffmpeg"
	if coverArtFunc(cfg) == nil {
		t.Error("Expected cover art function when enabled")
	}
}
