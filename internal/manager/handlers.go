package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/routing"
)

// ErrInvalidArgument is returned for requests that can never succeed
var ErrInvalidArgument = errors.New("invalid argument")

func (m *Manager) handle(ctx context.Context, req ipc.DaemonRequest) ipc.DaemonResponse {
	slog.Debug("Handling request", "request", req.Variant())

	switch req.Kind {
	case ipc.KindPing:
		return ipc.OkResponse()
	case ipc.KindGetStatus:
		return ipc.StatusResponse(m.status())
	case ipc.KindDaemon:
		if err := m.handleDaemon(ctx, req.Daemon); err != nil {
			return ipc.ErrResponse(err)
		}
		return ipc.OkResponse()
	case ipc.KindPipewire:
		if req.Pipewire == nil {
			return ipc.ErrResponse(fmt.Errorf("%w: empty pipewire command", ErrInvalidArgument))
		}
		return ipc.PipewireResponse(m.handlePipewire(ctx, *req.Pipewire))
	}
	return ipc.ErrResponse(fmt.Errorf("%w: unknown request", ErrInvalidArgument))
}

func (m *Manager) handleDaemon(ctx context.Context, cmd ipc.DaemonCommand) error {
	switch cmd {
	case ipc.SaveProfile:
		if m.opts.ProfilePath == "" {
			return errors.New("no profile path configured")
		}
		if err := m.store.Profile().Save(m.opts.ProfilePath); err != nil {
			return err
		}
		slog.Info("Profile saved", "path", m.opts.ProfilePath)
		return nil

	case ipc.ReloadProfile:
		return m.reloadProfile(ctx)

	case ipc.StopDaemon:
		slog.Info("Stop requested by client")
		// Run calls Stop once the reply is delivered
		m.stopRequested = true
		return nil
	}
	return fmt.Errorf("%w: daemon command %q", ErrInvalidArgument, cmd)
}

func (m *Manager) reloadProfile(ctx context.Context) error {
	if m.opts.ProfilePath == "" {
		return errors.New("no profile path configured")
	}
	p, _, err := profile.Load(m.opts.ProfilePath)
	if err != nil {
		return err
	}

	if err := m.links.RemoveAll(ctx); err != nil {
		slog.Warn("Failed to remove some links before reload", "error", err)
	}
	m.replaceProfile(ctx, p)
	slog.Info("Profile reloaded", "path", m.opts.ProfilePath)
	return nil
}

// replaceProfile rebinds the store, destroys filters the profile no longer
// needs and reconciles the rest
func (m *Manager) replaceProfile(ctx context.Context, p *profile.Profile) {
	for _, host := range m.store.Rebuild(p) {
		m.destroyFilter(ctx, host)
	}
	m.needLoad = true
	if m.synced {
		m.reconcile(ctx)
	}
}

func (m *Manager) handlePipewire(ctx context.Context, cmd ipc.PipewireCommand) ipc.PipewireCommandResponse {
	if err := cmd.Validate(); err != nil {
		return ipc.PipewireErr(err)
	}

	var err error
	switch {
	case cmd.SetRoute != nil:
		c := cmd.SetRoute
		err = m.routing.SetRoute(ctx, c.Source, c.Target, c.Enabled)

	case cmd.GetRoute != nil:
		exists, err := m.routing.RouteExists(cmd.GetRoute.Source, cmd.GetRoute.Target)
		if err != nil {
			return ipc.PipewireErr(err)
		}
		return ipc.PipewireRouteState(exists)

	case cmd.SetSourceMuteState != nil:
		c := cmd.SetSourceMuteState
		err = m.mute.SetMuteState(ctx, c.Source, c.MuteTarget, c.Active)

	case cmd.SetSourceMuteTargets != nil:
		c := cmd.SetSourceMuteTargets
		err = m.mute.SetMuteTargets(ctx, c.Source, c.MuteTarget, c.Targets)

	case cmd.SetTargetMix != nil:
		err = m.routing.SetTargetMix(ctx, cmd.SetTargetMix.Target, cmd.SetTargetMix.Mix)

	case cmd.AddNode != nil:
		id, err := m.addNode(ctx, *cmd.AddNode)
		if err != nil {
			return ipc.PipewireErr(err)
		}
		return ipc.PipewireNodeCreated(id)

	case cmd.RemoveNode != nil:
		err = m.removeNode(ctx, cmd.RemoveNode.ID)

	case cmd.RenameNode != nil:
		err = m.renameNode(cmd.RenameNode.ID, cmd.RenameNode.Name)

	case cmd.SetVolume != nil:
		c := cmd.SetVolume
		err = m.setVolume(ctx, c.ID, c.Mix, c.Volume)
	}

	if err != nil {
		if !errors.Is(err, routing.ErrAlreadySet) {
			slog.Warn("Command failed", "command", cmd.Variant(), "error", err)
		}
		return ipc.PipewireErr(err)
	}
	return ipc.PipewireOk()
}

func (m *Manager) addNode(ctx context.Context, c ipc.AddNode) (profile.ID, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return profile.Nil, fmt.Errorf("%w: node name is empty", ErrInvalidArgument)
	}

	p := m.store.Profile()
	id := p.AddNode(c.Kind, name, c.Match)
	slog.Info("Node added", "id", id, "kind", c.Kind, "name", name)

	m.replaceProfile(ctx, p)
	return id, nil
}

func (m *Manager) removeNode(ctx context.Context, id profile.ID) error {
	p := m.store.Profile()
	if !p.RemoveNode(id) {
		return fmt.Errorf("%w: %s", routing.ErrNodeNotFound, id)
	}
	slog.Info("Node removed", "id", id)

	// destroying the node's filters takes their links with them
	m.replaceProfile(ctx, p)
	return nil
}

// renameNode only changes the profile; host node descriptions are fixed at
// creation and pick the new name up when the filter is next created
func (m *Manager) renameNode(id profile.ID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: node name is empty", ErrInvalidArgument)
	}
	if !m.store.Profile().RenameNode(id, name) {
		return fmt.Errorf("%w: %s", routing.ErrNodeNotFound, id)
	}
	return nil
}

func (m *Manager) setVolume(ctx context.Context, id profile.ID, mix profile.Mix, volume uint8) error {
	if volume > 100 {
		return fmt.Errorf("%w: volume %d is above 100", ErrInvalidArgument, volume)
	}

	kind, ok := m.store.KindOf(id)
	if !ok {
		return fmt.Errorf("%w: %s", routing.ErrNodeNotFound, id)
	}
	m.store.Profile().SetVolume(id, mix, volume)

	f := nodes.Filter{Node: id, Role: nodes.RoleTargetFilter}
	if kind.IsSource() {
		f = nodes.Filter{Node: id, Role: nodes.RoleSourceFilter, Mix: mix}
	}
	host, ok := m.store.Host(f)
	if !ok {
		// applied when the filter registers
		return nil
	}
	return m.host.SetNodeVolume(ctx, host, volume)
}
