package coverart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder registration
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// DefaultMaxSize bounds the cover's longest edge in pixels
const DefaultMaxSize = 1000

const maxDownloadSize = 20 << 20

// RunFunc runs an external command to completion
type RunFunc func(ctx context.Context, name string, args ...string) error

// Options configures an Embedder
type Options struct {
	FFmpegBinary string
	MaxSize      int
	Timeout      time.Duration
	UserAgent    string
	Client       *http.Client
	Run          RunFunc
}

// Embedder downloads cover art and embeds it into finished captures
type Embedder struct {
	ffmpeg    string
	maxSize   int
	userAgent string
	client    *http.Client
	run       RunFunc
}

// New creates an embedder
func New(opts Options) *Embedder {
	if opts.FFmpegBinary == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "spotcapture"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Run == nil {
		opts.Run = runCommand
	}
	return &Embedder{
		ffmpeg:    opts.FFmpegBinary,
		maxSize:   opts.MaxSize,
		userAgent: opts.UserAgent,
		client:    opts.Client,
		run:       opts.Run,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w (output: %s)", err, strings.TrimSpace(lastLine(string(out))))
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Embed fetches the artwork referenced by ref and attaches it to the audio
// file at audioPath. The audio file is only replaced when embedding
// succeeded; temporary files are always removed.
func (e *Embedder) Embed(ctx context.Context, audioPath, ref string) error {
	if ref == "" {
		slog.Debug("No cover art reference", "path", audioPath)
		return nil
	}

	data, err := e.fetch(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to load cover art: %w", err)
	}

	cover, err := Resize(data, e.maxSize)
	if err != nil {
		return fmt.Errorf("failed to decode cover art: %w", err)
	}

	dir := filepath.Dir(audioPath)
	ext := filepath.Ext(audioPath)
	base := strings.TrimSuffix(filepath.Base(audioPath), ext)
	coverPath := filepath.Join(dir, "."+base+".cover.jpg")
	tempPath := filepath.Join(dir, "."+base+".artwork"+ext)

	defer os.Remove(coverPath)
	defer os.Remove(tempPath)

	if err := os.WriteFile(coverPath, cover, 0644); err != nil {
		return fmt.Errorf("failed to write cover art: %w", err)
	}

	slog.Debug("Merging cover art", "path", audioPath)
	if err := e.run(ctx, e.ffmpeg, EmbedArgs(audioPath, coverPath, tempPath)...); err != nil {
		return fmt.Errorf("ffmpeg failed adding artwork to %s: %w", audioPath, err)
	}

	if err := os.Rename(tempPath, audioPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", audioPath, err)
	}

	slog.Info("Cover art added", "path", audioPath)
	return nil
}

// EmbedArgs builds the ffmpeg arguments attaching cover as front cover
func EmbedArgs(audioPath, coverPath, outPath string) []string {
	return []string{
		"-y",
		"-i", audioPath,
		"-i", coverPath,
		"-map", "0:a",
		"-map", "1",
		"-codec", "copy",
		"-metadata:s:v", "title=Album cover",
		"-metadata:s:v", "comment=Cover (front)",
		"-disposition:v", "attached_pic",
		outPath,
	}
}

func (e *Embedder) fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid cover art reference %q: %w", ref, err)
	}

	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https":
		return e.download(ctx, ref)
	default:
		return nil, fmt.Errorf("unsupported cover art reference %q", ref)
	}
}

func (e *Embedder) download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, ref)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, nil
}

// Resize decodes an image, scales it to fit within maxSize x maxSize while
// keeping the aspect ratio, and returns it JPEG encoded
func Resize(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	if width > maxSize || height > maxSize {
		if width >= height {
			height = height * maxSize / width
			width = maxSize
		} else {
			width = width * maxSize / height
			height = maxSize
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, max(width, 1), max(height, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
