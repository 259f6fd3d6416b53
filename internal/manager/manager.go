// Package manager runs the daemon's single control loop. Every piece of
// audio state (profile, registry mirror, node store, established links) is
// owned by the goroutine running Manager.Run; transports and the registry
// monitor talk to it through channels.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/wI2L/jsondiff"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/links"
	"github.com/audiolibrelab/pipecast/internal/metrics"
	"github.com/audiolibrelab/pipecast/internal/mute"
	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/pipewire"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/registry"
	"github.com/audiolibrelab/pipecast/internal/routing"
)

// ErrStopped is returned to requests submitted after the loop has exited
var ErrStopped = errors.New("daemon is shutting down")

// Host is the host command surface the manager drives
type Host interface {
	links.Host
	CreateNode(ctx context.Context, spec pipewire.NodeSpec) error
	DestroyObject(ctx context.Context, id registry.HostID) error
	SetNodeVolume(ctx context.Context, id registry.HostID, volume uint8) error
}

// Request is one client request together with the channel its single
// response is delivered on
type Request struct {
	Data  ipc.DaemonRequest
	Reply chan ipc.DaemonResponse
}

type Options struct {
	// ProfilePath is where SaveProfile and ReloadProfile read and write
	ProfilePath string
	HTTP        ipc.HTTPSettings
	QueueSize   int
	// TeardownTimeout bounds link and node removal on shutdown
	TeardownTimeout time.Duration
	// Stop is called after StopDaemon has been answered
	Stop func()
}

type Manager struct {
	host Host
	opts Options

	requests chan Request
	events   chan pipewire.Event
	done     chan struct{}
	patches  *Broadcaster

	mirror  *registry.Mirror
	store   *nodes.Store
	links   *links.Manager
	routing *routing.Engine
	mute    *mute.Engine

	// registry replay finished at least once since the last reset
	synced bool
	// routes must be (re)loaded once every filter is registered
	needLoad bool
	// filter names a CreateNode was issued for and that have not shown up
	requested map[string]bool
	// managed nodes a DestroyObject was issued for
	destroying map[registry.HostID]bool

	lastStatus    []byte
	stopRequested bool
}

func New(host Host, p *profile.Profile, opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = 5 * time.Second
	}

	m := &Manager{
		host:       host,
		opts:       opts,
		requests:   make(chan Request, opts.QueueSize),
		events:     make(chan pipewire.Event, 8*opts.QueueSize),
		done:       make(chan struct{}),
		patches:    NewBroadcaster(opts.QueueSize),
		mirror:     registry.New(nodes.Prefix),
		store:      nodes.NewStore(p),
		needLoad:   true,
		requested:  make(map[string]bool),
		destroying: make(map[registry.HostID]bool),
	}
	m.links = links.NewManager(host, m.mirror)
	m.mute = mute.NewEngine(m.store, m.links)
	m.routing = routing.NewEngine(m.store, m.mute, m.links)
	m.lastStatus, _ = json.Marshal(m.status())
	return m
}

// Events is where the registry monitor delivers host events
func (m *Manager) Events() chan<- pipewire.Event {
	return m.events
}

// Patches exposes the status patch broadcaster
func (m *Manager) Patches() *Broadcaster {
	return m.patches
}

// Submit queues a request and waits for its response
func (m *Manager) Submit(ctx context.Context, req ipc.DaemonRequest) ipc.DaemonResponse {
	r := Request{Data: req, Reply: make(chan ipc.DaemonResponse, 1)}

	select {
	case m.requests <- r:
	case <-m.done:
		return ipc.ErrResponse(ErrStopped)
	case <-ctx.Done():
		return ipc.ErrResponse(ctx.Err())
	}

	select {
	case resp := <-r.Reply:
		return resp
	case <-m.done:
		return replyOr(r.Reply, ErrStopped)
	case <-ctx.Done():
		return replyOr(r.Reply, ctx.Err())
	}
}

// replyOr prefers a reply that is already buffered; StopDaemon is answered
// right before the daemon context is cancelled
func replyOr(reply chan ipc.DaemonResponse, err error) ipc.DaemonResponse {
	select {
	case resp := <-reply:
		return resp
	default:
	}
	return ipc.ErrResponse(err)
}

// Run processes requests and host events until ctx is cancelled, then
// removes everything the daemon created on the host
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	defer m.patches.Close()

	slog.Info("Manager started", "sources", len(m.store.Profile().Sources()), "targets", len(m.store.Profile().Targets()))

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return nil

		case req := <-m.requests:
			resp := m.handle(ctx, req.Data)
			metrics.ObserveRequest(req.Data.Variant(), resp.Error())
			req.Reply <- resp
			m.publish()

			if m.stopRequested {
				m.stopRequested = false
				if m.opts.Stop != nil {
					m.opts.Stop()
				}
			}

		case ev := <-m.events:
			m.handleEvent(ctx, ev)
		}
	}
}

// teardown runs with its own deadline since ctx is already cancelled
func (m *Manager) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.TeardownTimeout)
	defer cancel()

	slog.Info("Tearing down audio graph", "links", m.links.Count())
	if err := m.links.RemoveAll(ctx); err != nil {
		slog.Warn("Failed to remove some links", "error", err)
	}

	for _, host := range m.mirror.ManagedNodes() {
		if err := m.host.DestroyObject(ctx, host); err != nil {
			slog.Warn("Failed to destroy node", "id", host, "error", err)
		}
	}
}

func (m *Manager) status() ipc.DaemonStatus {
	filters := make(map[string][]uint32)
	for _, f := range m.store.Filters() {
		if host, ok := m.store.Host(f); ok {
			key := f.Node.String()
			filters[key] = append(filters[key], uint32(host))
		}
	}

	return ipc.DaemonStatus{
		Config: ipc.DaemonConfig{HTTPSettings: m.opts.HTTP},
		Audio: ipc.AudioStatus{
			Profile: m.store.Profile(),
			Filters: filters,
			Links:   m.links.Count(),
		},
	}
}

// publish diffs the current status against the last published one and
// broadcasts the patch, if any
func (m *Manager) publish() {
	metrics.SetLinksEstablished(m.links.Count())

	next, err := json.Marshal(m.status())
	if err != nil {
		slog.Error("Failed to encode status", "error", err)
		return
	}

	patch, err := jsondiff.CompareJSON(m.lastStatus, next)
	if err != nil {
		slog.Error("Failed to diff status", "error", err)
		return
	}
	m.lastStatus = next
	m.patches.Publish(patch)
}
