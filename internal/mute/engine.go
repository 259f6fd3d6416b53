// Package mute applies a source's mute dimensions to its realized routes.
package mute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/routing"
)

type Engine struct {
	nodes *nodes.Store
	links routing.Linker
}

func NewEngine(store *nodes.Store, links routing.Linker) *Engine {
	return &Engine{nodes: store, links: links}
}

func (e *Engine) states(source profile.ID) (*profile.MuteStates, error) {
	kind, ok := e.nodes.KindOf(source)
	if !ok {
		return nil, fmt.Errorf("%w: source %s", routing.ErrNodeNotFound, source)
	}
	if !kind.IsSource() {
		return nil, fmt.Errorf("%w: provided source %s is a %s", routing.ErrKindMismatch, source, kind)
	}
	states, _ := e.nodes.Profile().MuteStates(source)
	return states, nil
}

// IsSourceMutedToSome reports whether any active mute dimension of source
// silences it into target
func (e *Engine) IsSourceMutedToSome(source, target profile.ID) (bool, error) {
	states, err := e.states(source)
	if err != nil {
		return false, err
	}
	for _, state := range states {
		if state.Active && state.Covers(target) {
			return true, nil
		}
	}
	return false, nil
}

// mutedTargets returns the subset of source's routed targets it is muted to
func (e *Engine) mutedTargets(source profile.ID, states *profile.MuteStates) map[profile.ID]bool {
	muted := make(map[profile.ID]bool)
	for _, target := range e.nodes.Profile().RoutedTargets(source) {
		for _, state := range states {
			if state.Active && state.Covers(target) {
				muted[target] = true
				break
			}
		}
	}
	return muted
}

// MutedTargets lists the routed targets source is currently muted to
func (e *Engine) MutedTargets(source profile.ID) ([]profile.ID, error) {
	states, err := e.states(source)
	if err != nil {
		return nil, err
	}

	muted := e.mutedTargets(source, states)
	var ids []profile.ID
	for _, target := range e.nodes.Profile().RoutedTargets(source) {
		if muted[target] {
			ids = append(ids, target)
		}
	}
	return ids, nil
}

// SetMuteState activates or clears one mute dimension. Setting the current
// value does nothing.
func (e *Engine) SetMuteState(ctx context.Context, source profile.ID, which profile.MuteTarget, active bool) error {
	states, err := e.states(source)
	if err != nil {
		return err
	}
	if states[which].Active == active {
		return nil
	}

	before := e.mutedTargets(source, states)
	states[which].Active = active
	after := e.mutedTargets(source, states)

	slog.Debug("Mute state changed", "source", source, "dimension", which, "active", active)
	return e.apply(ctx, source, before, after)
}

// SetMuteTargets replaces the target list of one mute dimension. An empty
// list means every target.
func (e *Engine) SetMuteTargets(ctx context.Context, source profile.ID, which profile.MuteTarget, targets []profile.ID) error {
	states, err := e.states(source)
	if err != nil {
		return err
	}

	var cleaned []profile.ID
	for _, target := range targets {
		kind, ok := e.nodes.KindOf(target)
		if !ok {
			return fmt.Errorf("%w: target %s", routing.ErrNodeNotFound, target)
		}
		if !kind.IsTarget() {
			return fmt.Errorf("%w: provided target %s is a %s", routing.ErrKindMismatch, target, kind)
		}
		if !slices.Contains(cleaned, target) {
			cleaned = append(cleaned, target)
		}
	}

	before := e.mutedTargets(source, states)
	states[which].Targets = cleaned
	after := e.mutedTargets(source, states)

	return e.apply(ctx, source, before, after)
}

// apply turns a change in the muted set into link operations on each
// target's active mix
func (e *Engine) apply(ctx context.Context, source profile.ID, before, after map[profile.ID]bool) error {
	sourceMap, ok := e.nodes.SourceFilters(source)
	if !ok {
		// nothing realized yet
		return nil
	}

	var errs []error
	for _, target := range e.nodes.Profile().RoutedTargets(source) {
		if before[target] == after[target] {
			continue
		}
		targetFilter, ok := e.nodes.TargetFilter(target)
		if !ok {
			continue
		}
		mix, _ := e.nodes.Profile().ActiveMix(target)

		if after[target] {
			err := e.links.UnlinkFilterToFilter(ctx, sourceMap[mix], targetFilter)
			if err != nil {
				errs = append(errs, err)
			}
		} else {
			err := e.links.LinkFilterToFilter(ctx, sourceMap[mix], targetFilter)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
