package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/audiolibrelab/spotcapture/internal/naming"
)

// EnvPrefix is the prefix of environment variable overrides, e.g.
// SPOTCAPTURE_OUTPUT_DIRECTORY
const EnvPrefix = "SPOTCAPTURE"

type Config struct {
	Player    PlayerConfig  `mapstructure:"player" yaml:"player"`
	Output    OutputConfig  `mapstructure:"output" yaml:"output"`
	Audio     AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Timing    TimingConfig  `mapstructure:"timing" yaml:"timing"`
	History   HistoryConfig `mapstructure:"history" yaml:"history"`
	Status    StatusConfig  `mapstructure:"status" yaml:"status"`
	SkipIntro bool          `mapstructure:"skip_intro" yaml:"skip_intro"`

	// File the configuration was read from, empty when none was found
	File string `mapstructure:"-" yaml:"-"`
}

type PlayerConfig struct {
	BusName         string   `mapstructure:"bus_name" yaml:"bus_name"`
	ObjectPath      string   `mapstructure:"object_path" yaml:"object_path"`
	ApplicationName string   `mapstructure:"application_name" yaml:"application_name"` // pulse application.name of the player stream
	AdPrefixes      []string `mapstructure:"ad_prefixes" yaml:"ad_prefixes"`
}

type OutputConfig struct {
	Directory            string `mapstructure:"directory" yaml:"directory"`
	FilenamePattern      string `mapstructure:"filename_pattern" yaml:"filename_pattern"`
	UnderscoredFilenames bool   `mapstructure:"underscored_filenames" yaml:"underscored_filenames"`
	InternalTrackCounter bool   `mapstructure:"internal_track_counter" yaml:"internal_track_counter"`
	AddCoverArt          bool   `mapstructure:"add_cover_art" yaml:"add_cover_art"`
}

type AudioConfig struct {
	SinkName      string `mapstructure:"sink_name" yaml:"sink_name"`
	MuteRecording bool   `mapstructure:"mute_recording" yaml:"mute_recording"`
	FragmentSize  int    `mapstructure:"fragment_size" yaml:"fragment_size"`
	Codec         string `mapstructure:"codec" yaml:"codec"` // lossless only, capture is always stereo 44.1 kHz
	Extension     string `mapstructure:"extension" yaml:"extension"`
	FFmpegBinary  string `mapstructure:"ffmpeg_binary" yaml:"ffmpeg_binary"`
	PactlBinary   string `mapstructure:"pactl_binary" yaml:"pactl_binary"`
}

type TimingConfig struct {
	SeekDelay      time.Duration `mapstructure:"seek_delay" yaml:"seek_delay"`           // playback before rewinding to the track start
	SkipDelay      time.Duration `mapstructure:"skip_delay" yaml:"skip_delay"`           // playback before skipping a looped track
	PreRoll        time.Duration `mapstructure:"pre_roll" yaml:"pre_roll"`               // recorder start-up before playback resumes
	PostRoll       time.Duration `mapstructure:"post_roll" yaml:"post_roll"`             // extra recording after a track change
	MinimumCapture time.Duration `mapstructure:"minimum_capture" yaml:"minimum_capture"` // shortest capture remembered as recorded
	StopTimeout    time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type StatusConfig struct {
	Address string `mapstructure:"address" yaml:"address"` // empty disables the status server
}

// flagKeys maps command-line flags to configuration keys
var flagKeys = map[string]string{
	"output-directory":       "output.directory",
	"filename-pattern":       "output.filename_pattern",
	"underscored-filenames":  "output.underscored_filenames",
	"internal-track-counter": "output.internal_track_counter",
	"add-cover-art":          "output.add_cover_art",
	"mute-recording":         "audio.mute_recording",
	"skip-intro":             "skip_intro",
	"status-address":         "status.address",
}

// DefaultConfigFile returns the location of the optional configuration file
func DefaultConfigFile() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "spotcapture.yaml")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "spotcapture.yaml")
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "spotcapture")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state", "spotcapture")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("player.bus_name", "org.mpris.MediaPlayer2.spotify")
	v.SetDefault("player.object_path", "/org/mpris/MediaPlayer2")
	v.SetDefault("player.application_name", "spotify")
	v.SetDefault("player.ad_prefixes", []string{"spotify:ad:", "/com/spotify/ad"})

	v.SetDefault("output.directory", filepath.Join(os.Getenv("HOME"), "SpotCapture"))
	v.SetDefault("output.filename_pattern", naming.DefaultPattern)
	v.SetDefault("output.underscored_filenames", false)
	v.SetDefault("output.internal_track_counter", false)
	v.SetDefault("output.add_cover_art", false)

	v.SetDefault("audio.sink_name", "spotrec")
	v.SetDefault("audio.mute_recording", false)
	v.SetDefault("audio.fragment_size", 8820)
	v.SetDefault("audio.codec", "flac")
	v.SetDefault("audio.extension", "flac")
	v.SetDefault("audio.ffmpeg_binary", "ffmpeg")
	v.SetDefault("audio.pactl_binary", "pactl")

	v.SetDefault("timing.seek_delay", "5s")
	v.SetDefault("timing.skip_delay", "1s")
	v.SetDefault("timing.pre_roll", "250ms")
	v.SetDefault("timing.post_roll", "1250ms")
	v.SetDefault("timing.minimum_capture", "8s")
	v.SetDefault("timing.stop_timeout", "1s")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(defaultStateDir(), "history.db"))

	v.SetDefault("status.address", "")
	v.SetDefault("skip_intro", false)
}

// Load resolves the configuration from defaults, the optional config file,
// SPOTCAPTURE_* environment variables and changed command-line flags, in
// increasing order of precedence. An explicitly named config file must
// exist; the default one is optional.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile()
	}
	v.SetConfigFile(configFile)

	var used string
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case explicit:
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		used = configFile
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("error binding flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.File = used

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.History.Path = expandPath(cfg.History.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Validate checks the configuration for values the recorder cannot work with
func (c *Config) Validate() error {
	if err := validateOutput(c.Output); err != nil {
		return err
	}
	if err := validateAudio(c.Audio); err != nil {
		return err
	}
	if err := validateTiming(c.Timing); err != nil {
		return err
	}
	if c.Player.BusName == "" {
		return fmt.Errorf("player.bus_name cannot be empty")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	return nil
}

func validateOutput(o OutputConfig) error {
	if strings.TrimSpace(o.Directory) == "" {
		return fmt.Errorf("output.directory cannot be empty")
	}
	if err := naming.ValidatePattern(o.FilenamePattern); err != nil {
		return fmt.Errorf("output.filename_pattern: %w", err)
	}
	return nil
}

func validateAudio(a AudioConfig) error {
	if a.SinkName == "" {
		return fmt.Errorf("audio.sink_name cannot be empty")
	}
	if strings.ContainsAny(a.SinkName, " \t=\"'") {
		return fmt.Errorf("audio.sink_name must not contain whitespace, quotes or '=', got: %q", a.SinkName)
	}
	if a.FragmentSize <= 0 {
		return fmt.Errorf("audio.fragment_size must be > 0, got: %d", a.FragmentSize)
	}
	if a.Codec == "" || a.Extension == "" {
		return fmt.Errorf("audio.codec and audio.extension are required")
	}
	if !IsLosslessCodec(a.Codec) {
		return fmt.Errorf("audio.codec must be a lossless ffmpeg encoder (flac, alac, wavpack or pcm_*), got: %q", a.Codec)
	}
	if a.FFmpegBinary == "" || a.PactlBinary == "" {
		return fmt.Errorf("audio.ffmpeg_binary and audio.pactl_binary are required")
	}
	return nil
}

// IsLosslessCodec reports whether codec names a lossless ffmpeg audio encoder
func IsLosslessCodec(codec string) bool {
	switch codec {
	case "flac", "alac", "wavpack":
		return true
	}
	return strings.HasPrefix(codec, "pcm_") && len(codec) > len("pcm_")
}

func validateTiming(t TimingConfig) error {
	delays := []struct {
		key   string
		value time.Duration
	}{
		{"timing.seek_delay", t.SeekDelay},
		{"timing.skip_delay", t.SkipDelay},
		{"timing.pre_roll", t.PreRoll},
		{"timing.post_roll", t.PostRoll},
	}
	for _, d := range delays {
		if d.value < 0 {
			return fmt.Errorf("%s must be >= 0, got: %s", d.key, d.value)
		}
	}
	if t.StopTimeout <= 0 {
		return fmt.Errorf("timing.stop_timeout must be > 0, got: %s", t.StopTimeout)
	}
	// a loop is only recognized when the looped capture outlived the seek delay
	if t.MinimumCapture <= t.SeekDelay {
		return fmt.Errorf("timing.minimum_capture (%s) must be longer than timing.seek_delay (%s)", t.MinimumCapture, t.SeekDelay)
	}
	return nil
}
