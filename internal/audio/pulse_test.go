package audio

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const sinkInputsOutput = `Sink Input #17
	Driver: protocol-native.c
	Owner Module: 9
	Client: 33
	Sink: 0
	Sample Specification: float32le 2ch 44100Hz
	Properties:
		media.name = "Playback"
		application.name = "Firefox"
		application.process.id = "4242"

Sink Input #42
	Driver: protocol-native.c
	Owner Module: 9
	Client: 51
	Sink: 0
	Properties:
		media.name = "Spotify"
		application.name = "spotify"
		application.process.binary = "spotify"
`

type fakePactl struct {
	calls   []string
	outputs map[string]string
	fail    map[string]error
}

func (f *fakePactl) run(_ context.Context, name string, args ...string) ([]byte, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, call)
	if len(args) > 0 {
		if err := f.fail[args[0]]; err != nil {
			return nil, err
		}
		return []byte(f.outputs[args[0]]), nil
	}
	return nil, nil
}

func newTestRouter(f *fakePactl, mute bool) *PulseRouter {
	return NewPulseRouter(RouterConfig{Mute: mute, Run: f.run, Retries: 2, RetryDelay: time.Millisecond})
}

func TestParseSinkInputs(t *testing.T) {
	streams := parseSinkInputs(sinkInputsOutput)
	if len(streams) != 2 {
		t.Fatalf("Expected 2 streams, got %d", len(streams))
	}

	if streams[0].Index != 17 || streams[0].ApplicationName != "Firefox" {
		t.Errorf("Unexpected first stream %+v", streams[0])
	}
	if streams[1].Index != 42 || streams[1].ApplicationName != "spotify" || streams[1].MediaName != "Spotify" {
		t.Errorf("Unexpected second stream %+v", streams[1])
	}
	if streams[1].Sink != "0" {
		t.Errorf("Expected sink 0, got %q", streams[1].Sink)
	}
	if streams[1].Properties["application.process.binary"] != "spotify" {
		t.Errorf("Expected properties to be parsed, got %v", streams[1].Properties)
	}
}

func TestCreateSink_RemapAndMuted(t *testing.T) {
	f := &fakePactl{outputs: map[string]string{"load-module": "536870913\n"}}
	r := newTestRouter(f, false)

	if err := r.CreateSink(context.Background()); err != nil {
		t.Fatalf("CreateSink failed: %v", err)
	}
	want := "pactl load-module module-remap-sink sink_name=spotrec sink_properties=device.description=spotrec rate=44100 channels=2 remix=no"
	if f.calls[0] != want {
		t.Errorf("Expected %q, got %q", want, f.calls[0])
	}

	// second call is a no-op while the sink exists
	if err := r.CreateSink(context.Background()); err != nil {
		t.Fatalf("CreateSink failed: %v", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("Expected one pactl call, got %d", len(f.calls))
	}

	if err := r.DestroySink(context.Background()); err != nil {
		t.Fatalf("DestroySink failed: %v", err)
	}
	if f.calls[1] != "pactl unload-module 536870913" {
		t.Errorf("Unexpected unload call %q", f.calls[1])
	}

	muted := &fakePactl{outputs: map[string]string{"load-module": "7"}}
	if err := newTestRouter(muted, true).CreateSink(context.Background()); err != nil {
		t.Fatalf("CreateSink failed: %v", err)
	}
	if !strings.Contains(muted.calls[0], "module-null-sink") || strings.Contains(muted.calls[0], "remix") {
		t.Errorf("Expected null sink without remix, got %q", muted.calls[0])
	}
}

func TestDestroySink_WithoutSinkIsNoop(t *testing.T) {
	f := &fakePactl{}
	if err := newTestRouter(f, false).DestroySink(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("Expected no pactl calls, got %v", f.calls)
	}
}

func TestRouteApplication(t *testing.T) {
	f := &fakePactl{outputs: map[string]string{"list": sinkInputsOutput}}
	r := newTestRouter(f, false)

	if err := r.RouteApplication(context.Background(), "Spotify"); err != nil {
		t.Fatalf("RouteApplication failed: %v", err)
	}

	want := []string{
		"pactl list sink-inputs",
		"pactl set-sink-input-volume 42 65536",
		"pactl set-sink-volume spotrec 65536",
		"pactl move-sink-input 42 spotrec",
	}
	if len(f.calls) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, f.calls)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Errorf("Call %d: expected %q, got %q", i, want[i], f.calls[i])
		}
	}
}

func TestLocateStream_NotFound(t *testing.T) {
	f := &fakePactl{outputs: map[string]string{"list": "Sink Input #1\n\tProperties:\n\t\tapplication.name = \"mpv\"\n"}}
	r := newTestRouter(f, false)

	_, err := r.LocateStream(context.Background(), "spotify")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("Expected ErrStreamNotFound, got %v", err)
	}
	if len(f.calls) != 2 {
		t.Errorf("Expected 2 attempts, got %d", len(f.calls))
	}
}

func TestMoveStream_Error(t *testing.T) {
	f := &fakePactl{fail: map[string]error{"move-sink-input": errors.New("exit status 1")}}
	err := newTestRouter(f, false).MoveStream(context.Background(), 3)
	if err == nil || !strings.Contains(err.Error(), "failed to move stream 3") {
		t.Errorf("Expected move error, got %v", err)
	}
}
