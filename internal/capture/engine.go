package capture

import (
	"fmt"
	"strings"
)

// Command is a fully typed external invocation; arguments are never passed
// through a shell
type Command struct {
	Path string
	Args []string
	Env  []string
}

// String renders the command for logging
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Tag is a metadata key/value written into the capture file
type Tag struct {
	Key   string
	Value string
}

// Engine describes how the recorder binary is invoked
type Engine struct {
	Binary       string
	SinkName     string
	SampleRate   int
	Channels     int
	FragmentSize int
	Codec        string
	Extension    string
}

// DefaultEngine records stereo 44.1 kHz FLAC from the spotrec sink monitor
// with a 50ms fragment (0.05 * 44100 * 2 channels * 2 bytes)
func DefaultEngine() Engine {
	return Engine{
		Binary:       "ffmpeg",
		SinkName:     "spotrec",
		SampleRate:   44100,
		Channels:     2,
		FragmentSize: 8820,
		Codec:        "flac",
		Extension:    "flac",
	}
}

// Source returns the pulse source the recorder reads from
func (e Engine) Source() string {
	return e.SinkName + ".monitor"
}

// TempName is the hidden file name used while a capture is active
func (e Engine) TempName(base string) string {
	return "." + e.FinalName(base)
}

// FinalName is the file name a capture is renamed to on finalize
func (e Engine) FinalName(base string) string {
	return base + "." + e.Extension
}

// RecordCommand builds the recorder invocation writing to outPath
func (e Engine) RecordCommand(outPath string, tags []Tag) Command {
	args := []string{
		"-hide_banner",
		"-y",
		"-f", "pulse",
		"-ac", fmt.Sprintf("%d", e.Channels),
		"-ar", fmt.Sprintf("%d", e.SampleRate),
		"-fragment_size", fmt.Sprintf("%d", e.FragmentSize),
		"-i", e.Source(),
	}

	for _, tag := range tags {
		args = append(args, "-metadata", tag.Key+"="+tag.Value)
	}

	args = append(args, "-acodec", e.Codec, outPath)

	return Command{Path: e.Binary, Args: args}
}
