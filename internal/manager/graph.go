package manager

import (
	"context"
	"errors"
	"log/slog"

	"github.com/audiolibrelab/pipecast/internal/links"
	"github.com/audiolibrelab/pipecast/internal/metrics"
	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/pipewire"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/registry"
)

func (m *Manager) handleEvent(ctx context.Context, ev pipewire.Event) {
	switch ev.Kind {
	case pipewire.Global:
		for _, n := range m.mirror.Global(ev.ID, ev.Type, ev.Props) {
			if n.Kind == registry.NodeReady {
				m.nodeReady(ctx, n.Node)
			}
		}

	case pipewire.GlobalRemove:
		for _, n := range m.mirror.Remove(ev.ID) {
			if n.Kind == registry.NodeRemoved {
				m.nodeRemoved(n.Node)
			}
		}

	case pipewire.Sync:
		if !m.synced {
			slog.Info("Registry synchronized", "objects", m.mirror.Counts())
		}
		m.synced = true
		metrics.SetRegistryObjects(m.mirror.Counts())
		m.reconcile(ctx)
		m.publish()

	case pipewire.Reset:
		slog.Info("Registry stream restarted, forgetting host state")
		m.mirror.Reset()
		m.store.Reset(m.store.Profile())
		m.links.Reset()
		m.synced = false
		m.needLoad = true
		m.requested = make(map[string]bool)
		m.destroying = make(map[registry.HostID]bool)
	}
}

// nodeReady registers a daemon node once all of its ports are known
func (m *Manager) nodeReady(ctx context.Context, host registry.HostID) {
	node, ok := m.mirror.ManagedNode(host)
	if !ok {
		return
	}
	f, ok := nodes.ParseName(node.Name)
	if !ok || m.store.Registered(f) || !m.store.Wants(f) {
		return
	}
	if !m.complete(host) {
		return
	}
	m.register(ctx, f, host)
}

// complete reports whether a daemon node has every channel on both sides;
// links made against a half-announced node would miss channels
func (m *Manager) complete(host registry.HostID) bool {
	channels := len(pipewire.StereoPositions)
	return len(m.mirror.Ports(host, registry.In)) >= channels && len(m.mirror.Ports(host, registry.Out)) >= channels
}

func (m *Manager) register(ctx context.Context, f nodes.Filter, host registry.HostID) {
	m.store.Register(f, host)
	delete(m.requested, f.Name)
	m.needLoad = true
	slog.Debug("Filter registered", "name", f.Name, "id", host, "role", f.Role)

	if volume, ok := m.filterVolume(f); ok {
		if err := m.host.SetNodeVolume(ctx, host, volume); err != nil {
			slog.Warn("Failed to apply volume", "name", f.Name, "error", err)
		}
	}
}

func (m *Manager) filterVolume(f nodes.Filter) (uint8, bool) {
	switch f.Role {
	case nodes.RoleSourceFilter:
		if d, ok := m.store.PhysicalSource(f.Node); ok {
			return d.Volumes[f.Mix], true
		}
		if d, ok := m.store.VirtualSource(f.Node); ok {
			return d.Volumes[f.Mix], true
		}
	case nodes.RoleTargetFilter:
		if d, ok := m.store.PhysicalTarget(f.Node); ok {
			return d.Volume, true
		}
		if d, ok := m.store.VirtualTarget(f.Node); ok {
			return d.Volume, true
		}
	}
	return 0, false
}

func (m *Manager) nodeRemoved(host registry.HostID) {
	delete(m.destroying, host)
	m.links.ForgetNode(host)
	if affected := m.store.Forget(host); len(affected) > 0 {
		slog.Info("Host node disappeared", "id", host, "nodes", affected)
		m.needLoad = true
	}
}

// reconcile brings the host in line with the profile: adopt or create
// missing filters, destroy stale daemon nodes, then realize routes and
// device attachments once every filter is registered
func (m *Manager) reconcile(ctx context.Context) {
	for _, f := range m.store.Pending() {
		if host, ok := m.mirror.FindManagedNode(f.Name); ok && m.complete(host) {
			m.register(ctx, f, host)
			continue
		}
		if m.requested[f.Name] {
			continue
		}

		spec := pipewire.NodeSpec{Name: f.Name, Description: f.Description, MediaClass: pipewire.MediaClassDuplex}
		if f.Role == nodes.RoleVirtualInput {
			spec.MediaClass = pipewire.MediaClassSink
		}
		if err := m.host.CreateNode(ctx, spec); err != nil {
			slog.Error("Failed to create filter", "name", f.Name, "error", err)
			continue
		}
		m.requested[f.Name] = true
	}

	m.destroyStale(ctx)

	if pending := m.store.Pending(); len(pending) > 0 {
		slog.Debug("Waiting for filters", "pending", len(pending))
		return
	}

	if m.needLoad {
		m.needLoad = false
		if err := m.routing.Load(ctx); err != nil {
			slog.Error("Failed to load routing", "error", err)
		}
	}
	m.attachDevices(ctx)
}

// destroyStale removes daemon nodes left over from an earlier run that the
// profile no longer needs, and duplicates of registered filters
func (m *Manager) destroyStale(ctx context.Context) {
	for _, host := range m.mirror.ManagedNodes() {
		if m.destroying[host] {
			continue
		}
		node, _ := m.mirror.ManagedNode(host)

		f, ok := nodes.ParseName(node.Name)
		if ok && m.store.Wants(f) {
			registered, isRegistered := m.store.Host(f)
			if !isRegistered || registered == host {
				continue
			}
		}

		slog.Info("Destroying stale node", "id", host, "name", node.Name)
		m.destroyFilter(ctx, host)
	}
}

func (m *Manager) destroyFilter(ctx context.Context, host registry.HostID) {
	m.links.ForgetNode(host)
	if err := m.host.DestroyObject(ctx, host); err != nil {
		slog.Warn("Failed to destroy node", "id", host, "error", err)
		return
	}
	m.destroying[host] = true
}

// deviceMatch falls back to the node's name when no match list is set
func deviceMatch(match []string, name string) []string {
	if len(match) > 0 {
		return match
	}
	return []string{name}
}

// attachDevices links physical devices and virtual inputs to their filters.
// Links that already exist are no-ops, so this runs after every sync and
// picks up hot-plugged devices.
func (m *Manager) attachDevices(ctx context.Context) {
	p := m.store.Profile()

	for _, d := range p.Devices.Sources.Physical {
		pair, ok := m.store.SourceFilters(d.ID)
		if !ok {
			continue
		}
		device, ok := m.mirror.FindDeviceNode(deviceMatch(d.Match, d.Name), registry.Out)
		if !ok {
			continue
		}
		m.bind(ctx, d.ID, device, func(dev registry.HostID) []links.Pair {
			return []links.Pair{{Out: dev, In: pair[profile.MixA]}, {Out: dev, In: pair[profile.MixB]}}
		})
	}

	for _, d := range p.Devices.Sources.Virtual {
		pair, ok := m.store.SourceFilters(d.ID)
		if !ok {
			continue
		}
		input, ok := m.store.VirtualInput(d.ID)
		if !ok {
			continue
		}
		for _, mix := range profile.Mixes {
			m.linkDevice(ctx, input, pair[mix])
		}
	}

	for _, d := range p.Devices.Targets.Physical {
		filter, ok := m.store.TargetFilter(d.ID)
		if !ok {
			continue
		}
		device, ok := m.mirror.FindDeviceNode(deviceMatch(d.Match, d.Name), registry.In)
		if !ok {
			continue
		}
		m.bind(ctx, d.ID, device, func(dev registry.HostID) []links.Pair {
			return []links.Pair{{Out: filter, In: dev}}
		})
	}
}

// bind attaches a physical node to device, moving it off a previously
// bound device first
func (m *Manager) bind(ctx context.Context, id profile.ID, device registry.HostID, pairs func(registry.HostID) []links.Pair) {
	if previous, ok := m.store.DeviceBinding(id); ok && previous != device {
		slog.Info("Device binding changed", "node", id, "from", previous, "to", device)
		for _, pair := range pairs(previous) {
			if err := m.links.UnlinkNodes(ctx, pair.Out, pair.In); err != nil {
				slog.Warn("Failed to unlink previous device", "node", id, "error", err)
			}
		}
	}

	attached := true
	for _, pair := range pairs(device) {
		if !m.linkDevice(ctx, pair.Out, pair.In) {
			attached = false
		}
	}
	if attached {
		m.store.RegisterDeviceBinding(id, device)
	}
}

func (m *Manager) linkDevice(ctx context.Context, out, in registry.HostID) bool {
	err := m.links.LinkNodes(ctx, out, in)
	switch {
	case err == nil:
		return true
	case errors.Is(err, links.ErrNodeNotReady):
		slog.Debug("Device not ready", "out", out, "in", in)
	default:
		slog.Warn("Failed to attach device", "out", out, "in", in, "error", err)
	}
	return false
}
