package coverart

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("Expected jpeg output, got %s", format)
	}
	return cfg.Width, cfg.Height
}

func TestResize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 1500, 1000, 1000, 666},
		{"portrait", 500, 2000, 250, 1000},
		{"small stays", 640, 640, 640, 640},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resize(testPNG(t, tt.w, tt.h), 1000)
			if err != nil {
				t.Fatalf("Resize failed: %v", err)
			}
			w, h := decodedSize(t, out)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("Expected %dx%d, got %dx%d", tt.wantW, tt.wantH, w, h)
			}
		})
	}
}

func TestResize_InvalidData(t *testing.T) {
	if _, err := Resize([]byte("not an image"), 1000); err == nil {
		t.Error("Expected error for invalid image data")
	}
}

type recordedRun struct {
	name string
	args []string
}

func TestEmbed_FromServer(t *testing.T) {
	img := testPNG(t, 64, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer srv.Close()

	dir := t.TempDir()
	audio := filepath.Join(dir, "01 - A - Song.flac")
	if err := os.WriteFile(audio, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	var runs []recordedRun
	e := New(Options{Run: func(_ context.Context, name string, args ...string) error {
		runs = append(runs, recordedRun{name, args})
		// cover must exist while ffmpeg runs
		if _, err := os.Stat(args[4]); err != nil {
			t.Errorf("Cover file missing during embed: %v", err)
		}
		return os.WriteFile(args[len(args)-1], []byte("with art"), 0644)
	}})

	if err := e.Embed(context.Background(), audio, srv.URL+"/image/abc"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if len(runs) != 1 || runs[0].name != "ffmpeg" {
		t.Fatalf("Expected one ffmpeg run, got %+v", runs)
	}
	data, _ := os.ReadFile(audio)
	if string(data) != "with art" {
		t.Errorf("Expected audio file to be replaced, got %q", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected temporary files to be removed, found %d entries", len(entries))
	}
}

func TestEmbed_FailureKeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	cover := filepath.Join(dir, "cover.png")
	if err := os.WriteFile(cover, testPNG(t, 10, 10), 0644); err != nil {
		t.Fatal(err)
	}
	audio := filepath.Join(dir, "song.flac")
	if err := os.WriteFile(audio, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}

	e := New(Options{Run: func(context.Context, string, ...string) error {
		return errors.New("exit status 1")
	}})

	if err := e.Embed(context.Background(), audio, "file://"+cover); err == nil {
		t.Fatal("Expected error when ffmpeg fails")
	}

	data, _ := os.ReadFile(audio)
	if string(data) != "original" {
		t.Errorf("Original file must be untouched, got %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("Expected only cover.png and song.flac, found %d entries", len(entries))
	}
}

func TestEmbed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	called := false
	e := New(Options{Run: func(context.Context, string, ...string) error {
		called = true
		return nil
	}})

	if err := e.Embed(context.Background(), filepath.Join(t.TempDir(), "x.flac"), srv.URL); err == nil {
		t.Error("Expected error for 404")
	}
	if called {
		t.Error("ffmpeg must not run when the download fails")
	}
}

func TestEmbedArgs(t *testing.T) {
	args := EmbedArgs("in.flac", "c.jpg", "out.flac")
	want := []string{"-y", "-i", "in.flac", "-i", "c.jpg", "-map", "0:a", "-map", "1", "-codec", "copy",
		"-metadata:s:v", "title=Album cover", "-metadata:s:v", "comment=Cover (front)",
		"-disposition:v", "attached_pic", "out.flac"}
	if len(args) != len(want) {
		t.Fatalf("Expected %v, got %v", want, args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("Arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}
}
