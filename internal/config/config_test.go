package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolate points HOME and the XDG directories at a temp dir so the user's
// own configuration never leaks into a test
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	return home
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spotcapture.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != "" {
		t.Errorf("Expected no config file, got %s", cfg.File)
	}
	if cfg.Output.Directory != filepath.Join(home, "SpotCapture") {
		t.Errorf("Unexpected output directory %s", cfg.Output.Directory)
	}
	if cfg.Output.FilenamePattern != "{trackNumber} - {artist} - {title}" {
		t.Errorf("Unexpected pattern %s", cfg.Output.FilenamePattern)
	}
	if cfg.Audio.SinkName != "spotrec" || cfg.Audio.Codec != "flac" || cfg.Audio.Extension != "flac" {
		t.Errorf("Unexpected audio defaults %+v", cfg.Audio)
	}
	if cfg.Player.ApplicationName != "spotify" {
		t.Errorf("Unexpected application name %s", cfg.Player.ApplicationName)
	}

	want := TimingConfig{
		SeekDelay:      5 * time.Second,
		SkipDelay:      time.Second,
		PreRoll:        250 * time.Millisecond,
		PostRoll:       1250 * time.Millisecond,
		MinimumCapture: 8 * time.Second,
		StopTimeout:    time.Second,
	}
	if cfg.Timing != want {
		t.Errorf("Timing defaults: expected %+v, got %+v", want, cfg.Timing)
	}
	if cfg.History.Path != filepath.Join(home, ".local", "state", "spotcapture", "history.db") {
		t.Errorf("Unexpected history path %s", cfg.History.Path)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	home := isolate(t)
	path := writeConfig(t, `
output:
  directory: ~/Music/Rips
  filename_pattern: "{artist}/{album}/{trackNumber} {title}"
  underscored_filenames: true
timing:
  seek_delay: 3s
  post_roll: 2s
audio:
  codec: alac
  extension: m4a
`)

	t.Setenv("SPOTCAPTURE_TIMING_SKIP_DELAY", "500ms")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("mute-recording", false, "")
	flags.String("output-directory", "", "")
	flags.Bool("internal-track-counter", false, "")
	if err := flags.Parse([]string{"--mute-recording", "--internal-track-counter"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != path {
		t.Errorf("Expected file %s, got %s", path, cfg.File)
	}
	// unchanged flags do not override the file
	if cfg.Output.Directory != filepath.Join(home, "Music", "Rips") {
		t.Errorf("Expected expanded directory, got %s", cfg.Output.Directory)
	}
	if !cfg.Output.UnderscoredFilenames {
		t.Error("Expected underscored filenames from file")
	}
	if cfg.Timing.SeekDelay != 3*time.Second || cfg.Timing.PostRoll != 2*time.Second {
		t.Errorf("Unexpected timing from file %+v", cfg.Timing)
	}
	if cfg.Timing.SkipDelay != 500*time.Millisecond {
		t.Errorf("Expected skip delay from env, got %s", cfg.Timing.SkipDelay)
	}
	if !cfg.Audio.MuteRecording || !cfg.Output.InternalTrackCounter {
		t.Error("Expected flags to be applied")
	}
	if cfg.Audio.Codec != "alac" || cfg.Audio.Extension != "m4a" {
		t.Errorf("Expected alac/m4a from file, got %s/%s", cfg.Audio.Codec, cfg.Audio.Extension)
	}
}

func TestLoad_FlagOverridesFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "output:\n  directory: /from/file\n")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("output-directory", "o", "", "")
	if err := flags.Parse([]string{"-o", "/from/flag"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Output.Directory != "/from/flag" {
		t.Errorf("Expected flag to win, got %s", cfg.Output.Directory)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}

func TestLoad_RejectsLossyCodec(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "audio:\n  codec: mp3\n  extension: mp3\n")

	_, err := Load(path, nil)
	if err == nil || !strings.Contains(err.Error(), "audio.codec") {
		t.Errorf("Expected audio.codec validation error, got %v", err)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "timing:\n  seek_delay: 10s\n  minimum_capture: 8s\n")

	_, err := Load(path, nil)
	if err == nil || !strings.Contains(err.Error(), "minimum_capture") {
		t.Errorf("Expected minimum_capture validation error, got %v", err)
	}
}

func validConfig() Config {
	return Config{
		Player: PlayerConfig{BusName: "org.mpris.MediaPlayer2.spotify"},
		Output: OutputConfig{Directory: "/music", FilenamePattern: "{title}"},
		Audio: AudioConfig{
			SinkName:     "spotrec",
			FragmentSize: 8820,
			Codec:        "flac",
			Extension:    "flac",
			FFmpegBinary: "ffmpeg",
			PactlBinary:  "pactl",
		},
		Timing: TimingConfig{
			SeekDelay:      5 * time.Second,
			MinimumCapture: 8 * time.Second,
			StopTimeout:    time.Second,
		},
		History: HistoryConfig{Enabled: true, Path: "/tmp/history.db"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty directory", func(c *Config) { c.Output.Directory = " " }, "output.directory"},
		{"unknown placeholder", func(c *Config) { c.Output.FilenamePattern = "{year} {title}" }, "filename_pattern"},
		{"sink with space", func(c *Config) { c.Audio.SinkName = "spot rec" }, "sink_name"},
		{"lossy codec", func(c *Config) { c.Audio.Codec = "mp3"; c.Audio.Extension = "mp3" }, "lossless"},
		{"bare pcm prefix", func(c *Config) { c.Audio.Codec = "pcm_" }, "lossless"},
		{"pcm codec", func(c *Config) { c.Audio.Codec = "pcm_s16le"; c.Audio.Extension = "wav" }, ""},
		{"wavpack codec", func(c *Config) { c.Audio.Codec = "wavpack"; c.Audio.Extension = "wv" }, ""},
		{"negative post roll", func(c *Config) { c.Timing.PostRoll = -time.Second }, "post_roll"},
		{"zero stop timeout", func(c *Config) { c.Timing.StopTimeout = 0 }, "stop_timeout"},
		{"minimum equals seek", func(c *Config) { c.Timing.MinimumCapture = c.Timing.SeekDelay }, "minimum_capture"},
		{"history without path", func(c *Config) { c.History.Path = "" }, "history.path"},
		{"history disabled without path", func(c *Config) { c.History = HistoryConfig{} }, ""},
		{"no bus name", func(c *Config) { c.Player.BusName = "" }, "bus_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
