// Package routing turns the profile's routing matrix into filter-to-filter
// links on the host.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/registry"
)

var (
	ErrNodeNotFound = errors.New("node not found")
	ErrKindMismatch = errors.New("node kind mismatch")
	ErrNoSourceMap  = errors.New("no volume map for source")
	// ErrAlreadySet is returned when a mutation matches the current state,
	// so clients can tell a redundant command from a successful one
	ErrAlreadySet = errors.New("requested change already set")
)

// Linker creates and removes filter-to-filter links
type Linker interface {
	LinkFilterToFilter(ctx context.Context, out, in registry.HostID) error
	UnlinkFilterToFilter(ctx context.Context, out, in registry.HostID) error
}

// MuteChecker gates route realization on the source's mute state
type MuteChecker interface {
	IsSourceMutedToSome(source, target profile.ID) (bool, error)
}

type Engine struct {
	nodes *nodes.Store
	mute  MuteChecker
	links Linker
}

func NewEngine(store *nodes.Store, mute MuteChecker, links Linker) *Engine {
	return &Engine{nodes: store, mute: mute, links: links}
}

// Load realizes every unmuted route in the profile. Sources whose filters
// are not registered yet are skipped; a routed target without a filter is
// an error. Running it again on the same state creates nothing new.
func (e *Engine) Load(ctx context.Context) error {
	slog.Debug("Loading routing")

	p := e.nodes.Profile()
	var errs []error

	for _, source := range p.RouteSources() {
		for _, target := range p.RoutedTargets(source) {
			targetFilter, ok := e.nodes.TargetFilter(target)
			if !ok {
				return fmt.Errorf("%w: no filter for target %s", ErrNodeNotFound, target)
			}

			muted, err := e.mute.IsSourceMutedToSome(source, target)
			if err != nil {
				return err
			}
			if muted {
				continue
			}

			sourceMap, ok := e.nodes.SourceFilters(source)
			if !ok {
				slog.Debug("Source filters not ready, skipping route", "source", source, "target", target)
				continue
			}

			mix, err := e.TargetMix(target)
			if err != nil {
				return err
			}

			if err := e.links.LinkFilterToFilter(ctx, sourceMap[mix], targetFilter); err != nil {
				slog.Warn("Failed to realize route", "source", source, "target", target, "error", err)
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// validatePair checks that source is a source node and target a target node
func (e *Engine) validatePair(source, target profile.ID) error {
	sourceKind, ok := e.nodes.KindOf(source)
	if !ok {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, source)
	}
	targetKind, ok := e.nodes.KindOf(target)
	if !ok {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, target)
	}

	if !sourceKind.IsSource() {
		return fmt.Errorf("%w: provided source %s is a %s", ErrKindMismatch, source, sourceKind)
	}
	if !targetKind.IsTarget() {
		return fmt.Errorf("%w: provided target %s is a %s", ErrKindMismatch, target, targetKind)
	}
	return nil
}

// SetRoute enables or disables routing source into target. The profile is
// updated before the host is touched, so a host failure leaves the profile
// authoritative and a later Load reconciles.
func (e *Engine) SetRoute(ctx context.Context, source, target profile.ID, enabled bool) error {
	if err := e.validatePair(source, target); err != nil {
		return err
	}

	targetFilter, ok := e.nodes.TargetFilter(target)
	if !ok {
		return fmt.Errorf("%w: no filter for target %s", ErrNodeNotFound, target)
	}

	p := e.nodes.Profile()
	if p.EnsureRouteTable(source) {
		slog.Warn("Route table missing for source, created", "source", source)
	}

	if p.HasRoute(source, target) == enabled {
		return ErrAlreadySet
	}
	p.SetRoute(source, target, enabled)

	sourceMap, ok := e.nodes.SourceFilters(source)
	if !ok {
		return fmt.Errorf("%w %s", ErrNoSourceMap, source)
	}

	mix, err := e.TargetMix(target)
	if err != nil {
		return err
	}

	if !enabled {
		// muted pairs have no link, removal of an absent pair is a no-op
		return e.links.UnlinkFilterToFilter(ctx, sourceMap[mix], targetFilter)
	}

	muted, err := e.mute.IsSourceMutedToSome(source, target)
	if err != nil {
		return err
	}
	if muted {
		slog.Debug("Route stored but muted", "source", source, "target", target)
		return nil
	}
	return e.links.LinkFilterToFilter(ctx, sourceMap[mix], targetFilter)
}

// RouteExists reports whether the profile routes source into target
func (e *Engine) RouteExists(source, target profile.ID) (bool, error) {
	if err := e.validatePair(source, target); err != nil {
		return false, err
	}
	return e.nodes.Profile().HasRoute(source, target), nil
}

// TargetMix returns the mix currently feeding target
func (e *Engine) TargetMix(target profile.ID) (profile.Mix, error) {
	kind, ok := e.nodes.KindOf(target)
	if !ok {
		return profile.MixA, fmt.Errorf("%w: target %s", ErrNodeNotFound, target)
	}
	if !kind.IsTarget() {
		return profile.MixA, fmt.Errorf("%w: provided target %s is a %s", ErrKindMismatch, target, kind)
	}

	mix, _ := e.nodes.Profile().ActiveMix(target)
	return mix, nil
}

// SetTargetMix switches the mix feeding target and moves every realized
// route onto the new mix's filters
func (e *Engine) SetTargetMix(ctx context.Context, target profile.ID, mix profile.Mix) error {
	current, err := e.TargetMix(target)
	if err != nil {
		return err
	}
	if current == mix {
		return ErrAlreadySet
	}

	p := e.nodes.Profile()
	p.SetMix(target, mix)

	targetFilter, ok := e.nodes.TargetFilter(target)
	if !ok {
		// nothing realized yet, Load picks the new mix up
		return nil
	}

	var errs []error
	for _, source := range p.RoutedSources(target) {
		muted, err := e.mute.IsSourceMutedToSome(source, target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if muted {
			continue
		}
		sourceMap, ok := e.nodes.SourceFilters(source)
		if !ok {
			continue
		}

		if err := e.links.UnlinkFilterToFilter(ctx, sourceMap[current], targetFilter); err != nil {
			errs = append(errs, err)
		}
		if err := e.links.LinkFilterToFilter(ctx, sourceMap[mix], targetFilter); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
