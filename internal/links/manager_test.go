package links

import (
	"context"
	"errors"
	"testing"

	"github.com/audiolibrelab/pipecast/internal/registry"
)

type fakeHost struct {
	created   []PortPair
	destroyed []PortPair
	live      map[PortPair]bool
	failOn    map[PortPair]bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{live: make(map[PortPair]bool), failOn: make(map[PortPair]bool)}
}

func (h *fakeHost) CreateLink(_ context.Context, out, in registry.HostID) error {
	pp := PortPair{Out: out, In: in}
	if h.failOn[pp] {
		return errors.New("host refused")
	}
	h.created = append(h.created, pp)
	h.live[pp] = true
	return nil
}

func (h *fakeHost) DestroyLink(_ context.Context, out, in registry.HostID) error {
	pp := PortPair{Out: out, In: in}
	h.destroyed = append(h.destroyed, pp)
	delete(h.live, pp)
	return nil
}

type fakePorts map[registry.HostID][2][]registry.Port

func (f fakePorts) Ports(node registry.HostID, direction registry.Direction) []registry.Port {
	return f[node][direction]
}

func stereo(base registry.HostID) []registry.Port {
	return []registry.Port{
		{ID: base, Name: "FL", Channel: "FL"},
		{ID: base + 1, Name: "FR", Channel: "FR"},
	}
}

// filter 100 outputs on ports 1000/1001, filter 200 inputs on 2000/2001
func testPorts() fakePorts {
	return fakePorts{
		100: {registry.In: stereo(1100), registry.Out: stereo(1000)},
		200: {registry.In: stereo(2000), registry.Out: stereo(2100)},
	}
}

func TestLinkPairsChannels(t *testing.T) {
	host := newFakeHost()
	m := NewManager(host, testPorts())

	if err := m.LinkFilterToFilter(context.Background(), 100, 200); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []PortPair{{1000, 2000}, {1001, 2001}}
	if len(host.created) != len(want) {
		t.Fatalf("Expected %d host links, got %v", len(want), host.created)
	}
	for i := range want {
		if host.created[i] != want[i] {
			t.Errorf("Link %d: expected %v, got %v", i, want[i], host.created[i])
		}
	}
	if !m.Has(100, 200) {
		t.Error("Expected pair to be established")
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	host := newFakeHost()
	m := NewManager(host, testPorts())
	ctx := context.Background()

	m.LinkFilterToFilter(ctx, 100, 200)
	m.LinkFilterToFilter(ctx, 100, 200)

	if len(host.created) != 2 {
		t.Errorf("Expected the second call to be a no-op, got %d host links", len(host.created))
	}
	if m.Count() != 1 {
		t.Errorf("Expected one established pair, got %d", m.Count())
	}
}

func TestLinkThenUnlinkRestoresState(t *testing.T) {
	host := newFakeHost()
	m := NewManager(host, testPorts())
	ctx := context.Background()

	before := m.Established()
	if err := m.LinkFilterToFilter(ctx, 100, 200); err != nil {
		t.Fatal(err)
	}
	if err := m.UnlinkFilterToFilter(ctx, 100, 200); err != nil {
		t.Fatal(err)
	}

	if len(m.Established()) != len(before) {
		t.Errorf("Expected established set to return to %v, got %v", before, m.Established())
	}
	if len(host.live) != 0 {
		t.Errorf("Expected no live host links, got %v", host.live)
	}

	// unknown pair
	if err := m.UnlinkFilterToFilter(ctx, 100, 200); err != nil {
		t.Errorf("Expected unlinking an absent pair to be a no-op, got: %v", err)
	}
	if len(host.destroyed) != 2 {
		t.Errorf("Expected no extra host calls, got %v", host.destroyed)
	}
}

func TestLinkRollsBackOnFailure(t *testing.T) {
	host := newFakeHost()
	host.failOn[PortPair{1001, 2001}] = true
	m := NewManager(host, testPorts())

	err := m.LinkFilterToFilter(context.Background(), 100, 200)
	if err == nil {
		t.Fatal("Expected error from host")
	}
	if m.Has(100, 200) {
		t.Error("Expected failed pair not to be established")
	}
	if len(host.live) != 0 {
		t.Errorf("Expected partial links to be rolled back, got %v", host.live)
	}
}

func TestLinkRequiresPorts(t *testing.T) {
	m := NewManager(newFakeHost(), testPorts())

	err := m.LinkFilterToFilter(context.Background(), 100, 300)
	if !errors.Is(err, ErrNodeNotReady) {
		t.Errorf("Expected ErrNodeNotReady, got: %v", err)
	}
}

func TestPairPorts(t *testing.T) {
	monitor := registry.Port{ID: 9, Channel: "FL", IsMonitor: true}

	tests := []struct {
		name string
		outs []registry.Port
		ins  []registry.Port
		want int
	}{
		{"stereo to stereo", stereo(1), stereo(10), 2},
		{"monitor skipped", append(stereo(1), monitor), stereo(10), 2},
		{"mono fan out", []registry.Port{{ID: 1, Channel: "MONO"}}, stereo(10), 2},
		{"mono fan in", stereo(1), []registry.Port{{ID: 10, Channel: "MONO"}}, 2},
		{"nothing in common", stereo(1), []registry.Port{{ID: 10, Channel: "RL"}, {ID: 11, Channel: "RR"}}, 0},
	}

	for _, test := range tests {
		if got := PairPorts(test.outs, test.ins); len(got) != test.want {
			t.Errorf("%s: expected %d pairs, got %v", test.name, test.want, got)
		}
	}
}

func TestForgetNodeAndRemoveAll(t *testing.T) {
	ports := testPorts()
	ports[300] = [2][]registry.Port{registry.In: stereo(3000)}
	host := newFakeHost()
	m := NewManager(host, ports)
	ctx := context.Background()

	m.LinkFilterToFilter(ctx, 100, 200)
	m.LinkFilterToFilter(ctx, 200, 300)

	dropped := m.ForgetNode(300)
	if len(dropped) != 1 || dropped[0] != (Pair{200, 300}) {
		t.Errorf("Expected (200,300) to be dropped, got %v", dropped)
	}

	if err := m.RemoveAll(ctx); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 0 {
		t.Errorf("Expected no established pairs, got %v", m.Established())
	}
}

func TestPairDevicePortsUsesSinkMonitor(t *testing.T) {
	monitors := []registry.Port{
		{ID: 1, Channel: "FL", IsMonitor: true},
		{ID: 2, Channel: "FR", IsMonitor: true},
	}
	if got := PairPorts(monitors, stereo(10)); len(got) != 0 {
		t.Errorf("Expected strict pairing to skip monitor outputs, got %v", got)
	}
	if got := PairDevicePorts(monitors, stereo(10)); len(got) != 2 {
		t.Errorf("Expected sink monitor to feed both channels, got %v", got)
	}

	// a duplex node links from its plain outputs only
	mixed := append(stereo(20), monitors...)
	got := PairDevicePorts(mixed, stereo(10))
	if len(got) != 2 || got[0].Out != 20 || got[1].Out != 21 {
		t.Errorf("Expected plain outputs to be preferred, got %v", got)
	}
}
