package mute

import (
	"context"
	"errors"
	"testing"

	"github.com/audiolibrelab/pipecast/internal/links"
	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/registry"
	"github.com/audiolibrelab/pipecast/internal/routing"
)

type countingLinker struct {
	links       int
	unlinks     int
	established map[links.Pair]bool
}

func (l *countingLinker) LinkFilterToFilter(_ context.Context, out, in registry.HostID) error {
	pair := links.Pair{Out: out, In: in}
	if !l.established[pair] {
		l.links++
		l.established[pair] = true
	}
	return nil
}

func (l *countingLinker) UnlinkFilterToFilter(_ context.Context, out, in registry.HostID) error {
	pair := links.Pair{Out: out, In: in}
	if l.established[pair] {
		l.unlinks++
		delete(l.established, pair)
	}
	return nil
}

type fixture struct {
	p       *profile.Profile
	mute    *Engine
	routing *routing.Engine
	linker  *countingLinker
	source  profile.ID
	targets [2]profile.ID
}

// source filters [100,101], targets on filters 200 and 300
func newFixture() *fixture {
	p := profile.New()
	source := p.AddNode(profile.PhysicalSource, "Mic", nil)
	first := p.AddNode(profile.PhysicalTarget, "Headphones", nil)
	second := p.AddNode(profile.VirtualTarget, "Stream", nil)

	store := nodes.NewStore(p)
	store.RegisterSourceFilters(source, [2]registry.HostID{100, 101})
	store.RegisterTargetFilter(first, 200)
	store.RegisterTargetFilter(second, 300)

	linker := &countingLinker{established: make(map[links.Pair]bool)}
	m := NewEngine(store, linker)
	return &fixture{
		p:       p,
		mute:    m,
		routing: routing.NewEngine(store, m, linker),
		linker:  linker,
		source:  source,
		targets: [2]profile.ID{first, second},
	}
}

func TestMutedRouteLinksOnlyOnUnmute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.mute.SetMuteState(ctx, f.source, profile.TargetA, true); err != nil {
		t.Fatal(err)
	}
	if err := f.routing.SetRoute(ctx, f.source, f.targets[0], true); err != nil {
		t.Fatal(err)
	}
	if f.linker.links != 0 {
		t.Fatalf("Expected no link while muted, got %d", f.linker.links)
	}

	if err := f.mute.SetMuteState(ctx, f.source, profile.TargetA, false); err != nil {
		t.Fatal(err)
	}
	if f.linker.links != 1 {
		t.Errorf("Expected exactly one link after unmute, got %d", f.linker.links)
	}
	if !f.linker.established[links.Pair{Out: 100, In: 200}] {
		t.Errorf("Expected (100, 200) to be linked, got %v", f.linker.established)
	}
}

func TestEmptyTargetListMutesEverything(t *testing.T) {
	f := newFixture()

	muted, err := f.mute.IsSourceMutedToSome(f.source, f.targets[1])
	if err != nil || muted {
		t.Fatalf("Expected unmuted, got %v (err %v)", muted, err)
	}

	states, _ := f.p.MuteStates(f.source)
	states[profile.TargetB].Active = true
	for _, target := range f.targets {
		if muted, _ := f.mute.IsSourceMutedToSome(f.source, target); !muted {
			t.Errorf("Expected source muted to %s", target)
		}
	}
}

func TestMuteTargetsDiff(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, target := range f.targets {
		if err := f.routing.SetRoute(ctx, f.source, target, true); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.linker.established) != 2 {
		t.Fatalf("Expected 2 links, got %v", f.linker.established)
	}

	// restrict dimension A to the second target, then activate it
	if err := f.mute.SetMuteTargets(ctx, f.source, profile.TargetA, []profile.ID{f.targets[1], f.targets[1]}); err != nil {
		t.Fatal(err)
	}
	if f.linker.unlinks != 0 {
		t.Errorf("Expected inactive dimension to change nothing, got %d unlinks", f.linker.unlinks)
	}
	if err := f.mute.SetMuteState(ctx, f.source, profile.TargetA, true); err != nil {
		t.Fatal(err)
	}
	if f.linker.established[links.Pair{Out: 100, In: 300}] {
		t.Error("Expected route to the second target to be unlinked")
	}
	if !f.linker.established[links.Pair{Out: 100, In: 200}] {
		t.Error("Expected route to the first target to stay")
	}

	muted, _ := f.mute.MutedTargets(f.source)
	if len(muted) != 1 || muted[0] != f.targets[1] {
		t.Errorf("Expected muted targets [%s], got %v", f.targets[1], muted)
	}

	// widen to every target
	if err := f.mute.SetMuteTargets(ctx, f.source, profile.TargetA, nil); err != nil {
		t.Fatal(err)
	}
	if len(f.linker.established) != 0 {
		t.Errorf("Expected every route unlinked, got %v", f.linker.established)
	}
}

func TestMuteValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if err := f.mute.SetMuteState(ctx, f.targets[0], profile.TargetA, true); !errors.Is(err, routing.ErrKindMismatch) {
		t.Errorf("Expected ErrKindMismatch for a target, got: %v", err)
	}
	if err := f.mute.SetMuteState(ctx, profile.NewID(), profile.TargetA, true); !errors.Is(err, routing.ErrNodeNotFound) {
		t.Errorf("Expected ErrNodeNotFound, got: %v", err)
	}
	if err := f.mute.SetMuteTargets(ctx, f.source, profile.TargetA, []profile.ID{f.source}); !errors.Is(err, routing.ErrKindMismatch) {
		t.Errorf("Expected ErrKindMismatch for a source in the target list, got: %v", err)
	}
	if err := f.mute.SetMuteState(ctx, f.source, profile.TargetA, false); err != nil {
		t.Errorf("Expected unchanged state to be a no-op, got: %v", err)
	}
}
