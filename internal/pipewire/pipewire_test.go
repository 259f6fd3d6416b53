package pipewire

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/pipecast/internal/registry"
)

const dumpSample = `[
  {
    "id": 42,
    "type": "PipeWire:Interface:Node",
    "version": 3,
    "permissions": [ "r", "w", "x", "m" ],
    "info": {
      "max-input-ports": 0,
      "props": {
        "device.id": 10,
        "node.name": "alsa_output.usb.analog-stereo",
        "node.description": "USB Headphones",
        "audio.position": [ "FL", "FR" ],
        "node.pause-on-idle": false,
        "object.serial": null
      }
    }
  },
  {
    "id": 0,
    "type": "PipeWire:Interface:Metadata",
    "metadata": [ ]
  }
]
[
  { "id": 42, "info": null }
]
`

func TestDecode(t *testing.T) {
	var events []Event
	err := Decode(strings.NewReader(dumpSample), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	kinds := []EventKind{Global, Sync, GlobalRemove, Sync}
	if len(events) != len(kinds) {
		t.Fatalf("Expected %d events, got %d: %+v", len(kinds), len(events), events)
	}
	for i, kind := range kinds {
		if events[i].Kind != kind {
			t.Errorf("Event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
	}

	node := events[0]
	if node.ID != 42 || node.Type != "PipeWire:Interface:Node" {
		t.Errorf("Unexpected node event: %+v", node)
	}
	expected := map[string]string{
		"device.id":          "10",
		"node.name":          "alsa_output.usb.analog-stereo",
		"audio.position":     `["FL","FR"]`,
		"node.pause-on-idle": "false",
	}
	for key, value := range expected {
		if node.Props[key] != value {
			t.Errorf("Prop %s: expected %q, got %q", key, value, node.Props[key])
		}
	}
	if _, ok := node.Props["object.serial"]; ok {
		t.Error("Expected null props to be dropped")
	}
	if events[2].ID != 42 {
		t.Errorf("Expected removal of 42, got %d", events[2].ID)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	err := Decode(strings.NewReader(`{"id": 1}`), func(Event) error { return nil })
	if err == nil {
		t.Error("Expected error for a stream that is not an array")
	}
}

func TestDecodeStopsWhenEmitFails(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Decode(strings.NewReader(dumpSample), func(Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Expected to stop after the first event, got %v after %d calls", err, calls)
	}
}

func TestNodeSpecProps(t *testing.T) {
	spec := NodeSpec{Name: "pipecast.abc.a", Description: `Mic "A"`}
	props := spec.Props()

	for _, want := range []string{
		"factory.name=support.null-audio-sink",
		`node.name="pipecast.abc.a"`,
		`node.description="Mic \"A\""`,
		"media.class=Audio/Duplex",
		"audio.position=[ FL FR ]",
		"object.linger=true",
	} {
		if !strings.Contains(props, want) {
			t.Errorf("Expected props to contain %s, got %s", want, props)
		}
	}
	if !strings.HasPrefix(props, "{") || !strings.HasSuffix(props, "}") {
		t.Errorf("Expected an object, got %s", props)
	}
}

type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	output string
	err    error
	block  bool
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(r.output), r.err
}

func startClient(t *testing.T, runner Runner, timeout time.Duration) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c := NewClient(runner, DefaultBinaries(), timeout)
	c.retryDelay = time.Millisecond
	go c.Run(ctx)
	return c
}

func TestClientCommands(t *testing.T) {
	runner := &fakeRunner{}
	c := startClient(t, runner, time.Second)
	ctx := context.Background()

	if err := c.CreateLink(ctx, 50, 60); err != nil {
		t.Fatal(err)
	}
	if err := c.DestroyLink(ctx, 50, 60); err != nil {
		t.Fatal(err)
	}
	if err := c.DestroyObject(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := c.CreateNode(ctx, NodeSpec{Name: "pipecast.x"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetNodeVolume(ctx, 9, 50); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"pw-link 50 60",
		"pw-link -d 50 60",
		"pw-cli destroy 7",
		"pw-cli create-node adapter",
		"pw-cli set-param 9 Props { channelVolumes: [ 0.125000, 0.125000 ] }",
	}
	if len(runner.calls) != len(want) {
		t.Fatalf("Expected %d calls, got %v", len(want), runner.calls)
	}
	for i, prefix := range want {
		got := strings.Join(runner.calls[i], " ")
		if !strings.HasPrefix(got, prefix) {
			t.Errorf("Call %d: expected %q, got %q", i, prefix, got)
		}
	}
}

func TestChannelVolume(t *testing.T) {
	tests := []struct {
		volume uint8
		want   float64
	}{
		{0, 0},
		{100, 1},
		{50, 0.125},
		{150, 1},
	}
	for _, tt := range tests {
		if got := ChannelVolume(tt.volume); got != tt.want {
			t.Errorf("ChannelVolume(%d): expected %v, got %v", tt.volume, tt.want, got)
		}
	}
}

func TestClientLinkRetriesAndExistingLink(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1"), output: "failed to link ports: No such file or directory"}
	c := startClient(t, runner, time.Second)

	err := c.CreateLink(context.Background(), 1, 2)
	if !errors.Is(err, ErrHostCommand) {
		t.Errorf("Expected ErrHostCommand, got: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(runner.calls))
	}

	exists := &fakeRunner{err: errors.New("exit status 1"), output: "failed to link ports: File exists"}
	c = startClient(t, exists, time.Second)
	if err := c.CreateLink(context.Background(), 1, 2); err != nil {
		t.Errorf("Expected an existing link to count as success, got: %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	c := startClient(t, &fakeRunner{block: true}, 20*time.Millisecond)

	err := c.DestroyObject(context.Background(), 1)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("Expected ErrCommandTimeout, got: %v", err)
	}
}

func TestClientTimeoutIsNotRetried(t *testing.T) {
	runner := &fakeRunner{block: true}
	c := startClient(t, runner, 20*time.Millisecond)

	for i := 0; i < 20; i++ {
		err := c.DestroyObject(context.Background(), 1)
		if !errors.Is(err, ErrCommandTimeout) {
			t.Fatalf("Attempt %d: expected ErrCommandTimeout, got: %v", i, err)
		}
	}

	runner.mu.Lock()
	runner.calls = nil
	runner.mu.Unlock()

	err := c.CreateLink(context.Background(), 5, 6)
	if !errors.Is(err, ErrCommandTimeout) {
		t.Errorf("Expected ErrCommandTimeout from a hung link, got: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 {
		t.Errorf("Expected a timed out link to run once, got: %d runs", len(runner.calls))
	}
}

func TestMonitorResetsAfterRestart(t *testing.T) {
	events := make(chan Event, 16)
	opened := 0
	open := func(context.Context) (io.ReadCloser, error) {
		opened++
		return io.NopCloser(strings.NewReader(`[ { "id": 1, "type": "PipeWire:Interface:Device", "info": { "props": {} } } ]`)), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		NewMonitorFromStream(open, events).Run(ctx)
		close(done)
	}()

	want := []EventKind{Global, Sync, Reset, Global, Sync}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind {
				t.Fatalf("Event %d: expected %s, got %s", i, kind, ev.Kind)
			}
		case <-ctx.Done():
			t.Fatalf("Timed out waiting for event %d", i)
		}
	}

	cancel()
	<-done
	if opened < 2 {
		t.Errorf("Expected the stream to be reopened, opened %d times", opened)
	}
}

const snapshotSample = `[
  { "id": 10, "type": "PipeWire:Interface:Device", "info": { "props": { "device.name": "alsa_card.usb", "device.description": "USB Audio" } } },
  { "id": 42, "type": "PipeWire:Interface:Node", "info": { "props": { "device.id": 10, "node.name": "alsa_output.usb.analog-stereo", "node.description": "USB Headphones" } } },
  { "id": 43, "type": "PipeWire:Interface:Port", "info": { "props": { "node.id": 42, "port.id": 0, "port.name": "playback_FL", "audio.channel": "FL", "port.direction": "in" } } },
  { "id": 44, "type": "PipeWire:Interface:Port", "info": { "props": { "node.id": 42, "port.id": 1, "port.name": "playback_FR", "audio.channel": "FR", "port.direction": "in" } } },
  { "id": 50, "type": "PipeWire:Interface:Node", "info": { "props": { "node.name": "pipecast.abc", "node.description": "Stream" } } }
]
`

func TestSnapshot(t *testing.T) {
	runner := &fakeRunner{output: snapshotSample}

	mirror, err := Snapshot(context.Background(), runner, "pw-dump", "pipecast.")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(runner.calls) != 1 || strings.Join(runner.calls[0], " ") != "pw-dump --no-colors" {
		t.Errorf("Expected one pw-dump call, got: %v", runner.calls)
	}
	if nodes := mirror.DeviceNodes(); len(nodes) != 1 || nodes[0] != 42 {
		t.Fatalf("Expected device node 42, got: %v", nodes)
	}
	if ports := mirror.Ports(42, registry.In); len(ports) != 2 {
		t.Errorf("Expected 2 input ports, got: %+v", ports)
	}
	if managed := mirror.ManagedNodes(); len(managed) != 1 || managed[0] != 50 {
		t.Errorf("Expected managed node 50, got: %v", managed)
	}
}

func TestSnapshotRunnerFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("not found")}

	if _, err := Snapshot(context.Background(), runner, "pw-dump", "pipecast."); err == nil {
		t.Error("Expected runner failure to surface")
	}
}
