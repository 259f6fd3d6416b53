package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/audiolibrelab/pipecast/internal/links"
	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/registry"
)

type call struct {
	op      string
	out, in registry.HostID
}

// recordingLinker keeps the same dedup semantics as links.Manager
type recordingLinker struct {
	calls       []call
	established map[links.Pair]bool
}

func newRecordingLinker() *recordingLinker {
	return &recordingLinker{established: make(map[links.Pair]bool)}
}

func (l *recordingLinker) LinkFilterToFilter(_ context.Context, out, in registry.HostID) error {
	l.calls = append(l.calls, call{"link", out, in})
	l.established[links.Pair{Out: out, In: in}] = true
	return nil
}

func (l *recordingLinker) UnlinkFilterToFilter(_ context.Context, out, in registry.HostID) error {
	l.calls = append(l.calls, call{"unlink", out, in})
	delete(l.established, links.Pair{Out: out, In: in})
	return nil
}

type fakeMute map[[2]profile.ID]bool

func (f fakeMute) IsSourceMutedToSome(source, target profile.ID) (bool, error) {
	return f[[2]profile.ID{source, target}], nil
}

type fixture struct {
	engine *Engine
	linker *recordingLinker
	mute   fakeMute
	p      *profile.Profile
	source profile.ID
	target profile.ID
}

// newFixture builds source S with source map [100,101] and target T on
// mix A with target filter 200
func newFixture() *fixture {
	p := profile.New()
	source := p.AddNode(profile.VirtualSource, "System", nil)
	target := p.AddNode(profile.PhysicalTarget, "Headphones", nil)

	store := nodes.NewStore(p)
	store.RegisterSourceFilters(source, [2]registry.HostID{100, 101})
	store.RegisterTargetFilter(target, 200)

	f := &fixture{
		linker: newRecordingLinker(),
		mute:   fakeMute{},
		p:      p,
		source: source,
		target: target,
	}
	f.engine = NewEngine(store, f.mute, f.linker)
	return f
}

func TestSetRouteSimple(t *testing.T) {
	f := newFixture()

	if err := f.engine.SetRoute(context.Background(), f.source, f.target, true); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := f.p.RoutedTargets(f.source); len(got) != 1 || got[0] != f.target {
		t.Errorf("Expected routes[S] = {T}, got %v", got)
	}
	if len(f.linker.calls) != 1 || f.linker.calls[0] != (call{"link", 100, 200}) {
		t.Errorf("Expected exactly one link (100, 200), got %v", f.linker.calls)
	}
	exists, err := f.engine.RouteExists(f.source, f.target)
	if err != nil || !exists {
		t.Errorf("Expected route to exist, got %v (err %v)", exists, err)
	}
}

func TestSetRouteKindMismatch(t *testing.T) {
	f := newFixture()

	err := f.engine.SetRoute(context.Background(), f.target, f.source, true)
	if !errors.Is(err, ErrKindMismatch) {
		t.Errorf("Expected ErrKindMismatch, got: %v", err)
	}
	if f.p.HasRouteTable(f.target) {
		t.Error("Expected no route table for the target")
	}
	if len(f.p.RoutedTargets(f.source)) != 0 {
		t.Error("Expected routes to be unchanged")
	}
	if len(f.linker.calls) != 0 {
		t.Errorf("Expected no link calls, got %v", f.linker.calls)
	}
}

func TestSetRouteAlreadySet(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.engine.SetRoute(ctx, f.source, f.target, true); err != nil {
		t.Fatal(err)
	}
	err := f.engine.SetRoute(ctx, f.source, f.target, true)
	if !errors.Is(err, ErrAlreadySet) {
		t.Errorf("Expected ErrAlreadySet, got: %v", err)
	}
	if !f.p.HasRoute(f.source, f.target) {
		t.Error("Expected route to remain set")
	}
	if len(f.linker.calls) != 1 {
		t.Errorf("Expected no further link calls, got %v", f.linker.calls)
	}

	// disabling a route that is not there
	other := f.p.AddNode(profile.VirtualTarget, "Stream", nil)
	f.engine.nodes.RegisterTargetFilter(other, 300)
	if err := f.engine.SetRoute(ctx, f.source, other, false); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("Expected ErrAlreadySet for disabling an absent route, got: %v", err)
	}
}

func TestSetRouteMuted(t *testing.T) {
	f := newFixture()
	f.mute[[2]profile.ID{f.source, f.target}] = true

	if err := f.engine.SetRoute(context.Background(), f.source, f.target, true); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !f.p.HasRoute(f.source, f.target) {
		t.Error("Expected route to be stored")
	}
	if len(f.linker.calls) != 0 {
		t.Errorf("Expected no link calls for a muted pair, got %v", f.linker.calls)
	}
	exists, _ := f.engine.RouteExists(f.source, f.target)
	if !exists {
		t.Error("Expected route to exist")
	}
}

func TestSetTargetMixSwapsLinks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.engine.SetRoute(ctx, f.source, f.target, true); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.SetTargetMix(ctx, f.target, profile.MixB); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []call{{"link", 100, 200}, {"unlink", 100, 200}, {"link", 101, 200}}
	if len(f.linker.calls) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, f.linker.calls)
	}
	for i := range want {
		if f.linker.calls[i] != want[i] {
			t.Errorf("Call %d: expected %v, got %v", i, want[i], f.linker.calls[i])
		}
	}

	mix, _ := f.engine.TargetMix(f.target)
	if mix != profile.MixB {
		t.Errorf("Expected mix B, got %s", mix)
	}
	if err := f.engine.SetTargetMix(ctx, f.target, profile.MixB); !errors.Is(err, ErrAlreadySet) {
		t.Errorf("Expected ErrAlreadySet, got: %v", err)
	}
}

func TestDisableRouteUnlinksActiveMix(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.p.SetMix(f.target, profile.MixB)

	if err := f.engine.SetRoute(ctx, f.source, f.target, true); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.SetRoute(ctx, f.source, f.target, false); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []call{{"link", 101, 200}, {"unlink", 101, 200}}
	if len(f.linker.calls) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, f.linker.calls)
	}
	for i := range want {
		if f.linker.calls[i] != want[i] {
			t.Errorf("Call %d: expected %v, got %v", i, want[i], f.linker.calls[i])
		}
	}
	if f.p.HasRoute(f.source, f.target) {
		t.Error("Expected route to be removed from the profile")
	}
}

func TestSetRouteNoSourceMap(t *testing.T) {
	f := newFixture()
	late := f.p.AddNode(profile.PhysicalSource, "Mic", nil)

	err := f.engine.SetRoute(context.Background(), late, f.target, true)
	if !errors.Is(err, ErrNoSourceMap) {
		t.Errorf("Expected ErrNoSourceMap, got: %v", err)
	}
	// the profile stays authoritative, Load realizes it later
	if !f.p.HasRoute(late, f.target) {
		t.Error("Expected route to be stored despite the missing source map")
	}
}

func TestRouteExistsTracksLastValue(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	sequence := []bool{true, false, false, true, true, false}
	for i, enabled := range sequence {
		err := f.engine.SetRoute(ctx, f.source, f.target, enabled)
		if err != nil && !errors.Is(err, ErrAlreadySet) {
			t.Fatalf("Step %d: unexpected error: %v", i, err)
		}
		exists, err := f.engine.RouteExists(f.source, f.target)
		if err != nil {
			t.Fatal(err)
		}
		if exists != enabled {
			t.Errorf("Step %d: expected exists=%v, got %v", i, enabled, exists)
		}
	}
	if len(f.linker.established) != 0 {
		t.Errorf("Expected no established links after final disable, got %v", f.linker.established)
	}
}

func TestKindMismatchForEveryBadPair(t *testing.T) {
	p := profile.New()
	ids := map[profile.NodeKind]profile.ID{
		profile.PhysicalSource: p.AddNode(profile.PhysicalSource, "ps", nil),
		profile.VirtualSource:  p.AddNode(profile.VirtualSource, "vs", nil),
		profile.PhysicalTarget: p.AddNode(profile.PhysicalTarget, "pt", nil),
		profile.VirtualTarget:  p.AddNode(profile.VirtualTarget, "vt", nil),
	}
	store := nodes.NewStore(p)
	for kind, id := range ids {
		if kind.IsTarget() {
			store.RegisterTargetFilter(id, 1)
		} else {
			store.RegisterSourceFilters(id, [2]registry.HostID{2, 3})
		}
	}
	engine := NewEngine(store, fakeMute{}, newRecordingLinker())

	for sourceKind, source := range ids {
		for targetKind, target := range ids {
			valid := sourceKind.IsSource() && targetKind.IsTarget()
			_, err := engine.RouteExists(source, target)
			if valid && err != nil {
				t.Errorf("%s -> %s: unexpected error %v", sourceKind, targetKind, err)
			}
			if !valid && !errors.Is(err, ErrKindMismatch) {
				t.Errorf("%s -> %s: expected ErrKindMismatch, got %v", sourceKind, targetKind, err)
			}
			if !valid {
				if err := engine.SetRoute(context.Background(), source, target, true); !errors.Is(err, ErrKindMismatch) {
					t.Errorf("%s -> %s: SetRoute expected ErrKindMismatch, got %v", sourceKind, targetKind, err)
				}
			}
		}
	}
}

func TestUnknownNode(t *testing.T) {
	f := newFixture()

	_, err := f.engine.RouteExists(profile.NewID(), f.target)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Expected ErrNodeNotFound, got: %v", err)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	other := f.p.AddNode(profile.VirtualTarget, "Stream", nil)
	f.engine.nodes.RegisterTargetFilter(other, 300)
	f.p.SetMix(other, profile.MixB)

	f.p.SetRoute(f.source, f.target, true)
	f.p.SetRoute(f.source, other, true)

	if err := f.engine.Load(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	first := len(f.linker.established)
	if err := f.engine.Load(ctx); err != nil {
		t.Fatal(err)
	}

	if first != 2 || len(f.linker.established) != first {
		t.Errorf("Expected 2 established links after both loads, got %d then %d", first, len(f.linker.established))
	}
	if !f.linker.established[links.Pair{Out: 101, In: 300}] {
		t.Error("Expected mix B route to use the B filter")
	}
}

func TestLoadSkipsMutedAndUnreadySources(t *testing.T) {
	f := newFixture()
	late := f.p.AddNode(profile.PhysicalSource, "Mic", nil)
	f.p.SetRoute(late, f.target, true)
	f.p.SetRoute(f.source, f.target, true)
	f.mute[[2]profile.ID{f.source, f.target}] = true

	if err := f.engine.Load(context.Background()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(f.linker.calls) != 0 {
		t.Errorf("Expected no links, got %v", f.linker.calls)
	}
}

func TestLoadFailsWithoutTargetFilter(t *testing.T) {
	f := newFixture()
	missing := f.p.AddNode(profile.VirtualTarget, "Unregistered", nil)
	f.p.SetRoute(f.source, missing, true)

	if err := f.engine.Load(context.Background()); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Expected ErrNodeNotFound, got: %v", err)
	}
}
