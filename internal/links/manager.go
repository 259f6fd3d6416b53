// Package links creates and removes node-to-node links on the host,
// deduplicated by ordered node pair.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/audiolibrelab/pipecast/internal/registry"
)

// ErrNodeNotReady is returned when one side of a link has no usable ports yet
var ErrNodeNotReady = errors.New("node has no ports")

// ErrNoMatchingPorts is returned when two nodes share no channel
var ErrNoMatchingPorts = errors.New("no matching ports")

// Host is the part of the host command surface links need
type Host interface {
	CreateLink(ctx context.Context, outPort, inPort registry.HostID) error
	DestroyLink(ctx context.Context, outPort, inPort registry.HostID) error
}

// PortSource resolves node ports, normally the registry mirror
type PortSource interface {
	Ports(node registry.HostID, direction registry.Direction) []registry.Port
}

// Pair is an ordered (output node, input node) pair
type Pair struct {
	Out registry.HostID
	In  registry.HostID
}

// PortPair is one port-to-port host link
type PortPair struct {
	Out registry.HostID
	In  registry.HostID
}

// Manager tracks which node pairs this daemon has linked. The established
// set is what the daemon believes is live, independent of what the
// registry has reported back.
type Manager struct {
	host  Host
	ports PortSource

	established map[Pair][]PortPair
}

func NewManager(host Host, ports PortSource) *Manager {
	return &Manager{
		host:        host,
		ports:       ports,
		established: make(map[Pair][]PortPair),
	}
}

// PairPorts matches output ports to input ports by channel label. Monitor
// ports only pair with monitor ports. A single mono port on either side is
// fanned out to every port of the other side when nothing matches by label.
func PairPorts(outs, ins []registry.Port) []PortPair {
	var pairs []PortPair
	for _, out := range outs {
		for _, in := range ins {
			if out.Channel == in.Channel && out.IsMonitor == in.IsMonitor {
				pairs = append(pairs, PortPair{Out: out.ID, In: in.ID})
			}
		}
	}
	if len(pairs) > 0 {
		return pairs
	}

	outs = slices.DeleteFunc(slices.Clone(outs), func(p registry.Port) bool { return p.IsMonitor })
	ins = slices.DeleteFunc(slices.Clone(ins), func(p registry.Port) bool { return p.IsMonitor })
	switch {
	case len(outs) == 1:
		for _, in := range ins {
			pairs = append(pairs, PortPair{Out: outs[0].ID, In: in.ID})
		}
	case len(ins) == 1:
		for _, out := range outs {
			pairs = append(pairs, PortPair{Out: out.ID, In: ins[0].ID})
		}
	}
	return pairs
}

// PairDevicePorts pairs ports for attaching a device or an input sink. Plain
// outputs are preferred; a node with only monitor outputs (a sink) feeds
// from its monitor ports.
func PairDevicePorts(outs, ins []registry.Port) []PortPair {
	plain := slices.DeleteFunc(slices.Clone(outs), func(p registry.Port) bool { return p.IsMonitor })
	if len(plain) == 0 {
		for _, p := range outs {
			p.IsMonitor = false
			plain = append(plain, p)
		}
	}
	ins = slices.DeleteFunc(slices.Clone(ins), func(p registry.Port) bool { return p.IsMonitor })
	return PairPorts(plain, ins)
}

// LinkFilterToFilter links every matching channel from out to in. An
// already established pair is a no-op. If any host link fails, the ones
// created for this call are removed again.
func (m *Manager) LinkFilterToFilter(ctx context.Context, out, in registry.HostID) error {
	return m.link(ctx, out, in, PairPorts)
}

// LinkNodes links a device (or input sink) and a filter, see PairDevicePorts
func (m *Manager) LinkNodes(ctx context.Context, out, in registry.HostID) error {
	return m.link(ctx, out, in, PairDevicePorts)
}

func (m *Manager) link(ctx context.Context, out, in registry.HostID, pairPorts func(outs, ins []registry.Port) []PortPair) error {
	pair := Pair{Out: out, In: in}
	if _, ok := m.established[pair]; ok {
		return nil
	}

	outs := m.ports.Ports(out, registry.Out)
	if len(outs) == 0 {
		return fmt.Errorf("%w: output node %d", ErrNodeNotReady, out)
	}
	ins := m.ports.Ports(in, registry.In)
	if len(ins) == 0 {
		return fmt.Errorf("%w: input node %d", ErrNodeNotReady, in)
	}

	portPairs := pairPorts(outs, ins)
	if len(portPairs) == 0 {
		return fmt.Errorf("%w: %d -> %d", ErrNoMatchingPorts, out, in)
	}

	created := make([]PortPair, 0, len(portPairs))
	for _, pp := range portPairs {
		if err := m.host.CreateLink(ctx, pp.Out, pp.In); err != nil {
			m.rollback(ctx, created)
			return fmt.Errorf("failed to link %d -> %d: %w", out, in, err)
		}
		created = append(created, pp)
	}

	m.established[pair] = created
	slog.Debug("Linked nodes", "out", out, "in", in, "ports", len(created))
	return nil
}

func (m *Manager) rollback(ctx context.Context, created []PortPair) {
	for _, pp := range created {
		if err := m.host.DestroyLink(ctx, pp.Out, pp.In); err != nil {
			slog.Warn("Failed to roll back link", "out_port", pp.Out, "in_port", pp.In, "error", err)
		}
	}
}

// UnlinkFilterToFilter removes the host links behind an established pair.
// Unknown pairs are a no-op. The pair is forgotten even if the host fails
// to remove some links.
func (m *Manager) UnlinkFilterToFilter(ctx context.Context, out, in registry.HostID) error {
	pair := Pair{Out: out, In: in}
	portPairs, ok := m.established[pair]
	if !ok {
		return nil
	}
	delete(m.established, pair)

	var errs []error
	for _, pp := range portPairs {
		if err := m.host.DestroyLink(ctx, pp.Out, pp.In); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to unlink %d -> %d: %w", out, in, err)
	}

	slog.Debug("Unlinked nodes", "out", out, "in", in)
	return nil
}

func (m *Manager) UnlinkNodes(ctx context.Context, out, in registry.HostID) error {
	return m.UnlinkFilterToFilter(ctx, out, in)
}

// Has reports whether the pair is established
func (m *Manager) Has(out, in registry.HostID) bool {
	_, ok := m.established[Pair{Out: out, In: in}]
	return ok
}

// Established returns the established pairs ordered by (out, in)
func (m *Manager) Established() []Pair {
	pairs := make([]Pair, 0, len(m.established))
	for pair := range m.established {
		pairs = append(pairs, pair)
	}
	slices.SortFunc(pairs, func(a, b Pair) int {
		if a.Out != b.Out {
			return int(a.Out) - int(b.Out)
		}
		return int(a.In) - int(b.In)
	})
	return pairs
}

// Count returns the number of established pairs
func (m *Manager) Count() int {
	return len(m.established)
}

// ForgetNode drops pairs touching a node the host has removed. The host
// tears those links down itself.
func (m *Manager) ForgetNode(node registry.HostID) []Pair {
	var dropped []Pair
	for pair := range m.established {
		if pair.Out == node || pair.In == node {
			delete(m.established, pair)
			dropped = append(dropped, pair)
		}
	}
	return dropped
}

// Reset forgets every pair without touching the host
func (m *Manager) Reset() {
	m.established = make(map[Pair][]PortPair)
}

// RemoveAll unlinks every established pair
func (m *Manager) RemoveAll(ctx context.Context) error {
	var errs []error
	for _, pair := range m.Established() {
		if err := m.UnlinkFilterToFilter(ctx, pair.Out, pair.In); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
