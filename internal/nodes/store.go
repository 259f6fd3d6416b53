// Package nodes maps profile nodes to the host objects that realize them.
package nodes

import (
	"log/slog"
	"strings"

	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/registry"
)

// Prefix starts the node.name of every host node this daemon creates
const Prefix = "pipecast."

type Role int

const (
	// RoleSourceFilter is one of a source's two mix filters
	RoleSourceFilter Role = iota + 1
	// RoleTargetFilter is the single filter feeding a target
	RoleTargetFilter
	// RoleVirtualInput is the sink applications play into for a virtual source
	RoleVirtualInput
)

func (r Role) String() string {
	switch r {
	case RoleSourceFilter:
		return "source-filter"
	case RoleTargetFilter:
		return "target-filter"
	case RoleVirtualInput:
		return "virtual-input"
	}
	return "unknown"
}

// Filter describes one host node the daemon needs for a profile node
type Filter struct {
	Name        string
	Description string
	Role        Role
	Node        profile.ID
	Mix         profile.Mix
}

// SourceFilterName returns the node.name of a source's filter for mix
func SourceFilterName(id profile.ID, mix profile.Mix) string {
	return Prefix + id.String() + "." + strings.ToLower(mix.String())
}

// TargetFilterName returns the node.name of a target's filter
func TargetFilterName(id profile.ID) string {
	return Prefix + id.String()
}

// VirtualInputName returns the node.name of a virtual source's input sink
func VirtualInputName(id profile.ID) string {
	return Prefix + id.String() + ".sink"
}

// ParseName reverses the naming helpers above
func ParseName(name string) (Filter, bool) {
	rest, ok := strings.CutPrefix(name, Prefix)
	if !ok {
		return Filter{}, false
	}

	idPart, suffix, hasSuffix := strings.Cut(rest, ".")
	id, err := profile.ParseID(idPart)
	if err != nil {
		return Filter{}, false
	}

	f := Filter{Name: name, Node: id}
	switch {
	case !hasSuffix:
		f.Role = RoleTargetFilter
	case suffix == "a":
		f.Role, f.Mix = RoleSourceFilter, profile.MixA
	case suffix == "b":
		f.Role, f.Mix = RoleSourceFilter, profile.MixB
	case suffix == "sink":
		f.Role = RoleVirtualInput
	default:
		return Filter{}, false
	}
	return f, true
}

// Store holds the derived, non-persisted state that ties logical ids to
// host ids. It is owned by the manager loop.
type Store struct {
	profile *profile.Profile

	sourceFilters map[profile.ID][2]registry.HostID
	// which halves of a source pair have been seen
	sourceSeen    map[profile.ID][2]bool
	targetFilters map[profile.ID]registry.HostID
	virtualInputs map[profile.ID]registry.HostID
	devices       map[profile.ID]registry.HostID
}

func NewStore(p *profile.Profile) *Store {
	s := &Store{}
	s.Reset(p)
	return s
}

// Reset drops every mapping and binds the store to p
func (s *Store) Reset(p *profile.Profile) {
	s.profile = p
	s.sourceFilters = make(map[profile.ID][2]registry.HostID)
	s.sourceSeen = make(map[profile.ID][2]bool)
	s.targetFilters = make(map[profile.ID]registry.HostID)
	s.virtualInputs = make(map[profile.ID]registry.HostID)
	s.devices = make(map[profile.ID]registry.HostID)
}

// Rebuild rebinds the store after a profile edit and drops mappings for
// nodes the profile no longer defines. It returns the host ids of the
// dropped filters so the caller can destroy them.
func (s *Store) Rebuild(p *profile.Profile) []registry.HostID {
	s.profile = p

	var orphaned []registry.HostID
	for id, pair := range s.sourceFilters {
		if _, ok := p.Kind(id); !ok {
			seen := s.sourceSeen[id]
			for mix, host := range pair {
				if seen[mix] {
					orphaned = append(orphaned, host)
				}
			}
			delete(s.sourceFilters, id)
			delete(s.sourceSeen, id)
		}
	}
	for id, host := range s.targetFilters {
		if _, ok := p.Kind(id); !ok {
			orphaned = append(orphaned, host)
			delete(s.targetFilters, id)
		}
	}
	for id, host := range s.virtualInputs {
		if _, ok := p.Kind(id); !ok {
			orphaned = append(orphaned, host)
			delete(s.virtualInputs, id)
		}
	}
	for id := range s.devices {
		if _, ok := p.Kind(id); !ok {
			delete(s.devices, id)
		}
	}
	return orphaned
}

// Profile returns the profile the store is bound to
func (s *Store) Profile() *profile.Profile {
	return s.profile
}

func (s *Store) KindOf(id profile.ID) (profile.NodeKind, bool) {
	return s.profile.Kind(id)
}

func (s *Store) PhysicalSource(id profile.ID) (*profile.PhysicalSourceDevice, bool) {
	return s.profile.PhysicalSource(id)
}

func (s *Store) VirtualSource(id profile.ID) (*profile.VirtualSourceDevice, bool) {
	return s.profile.VirtualSource(id)
}

func (s *Store) PhysicalTarget(id profile.ID) (*profile.PhysicalTargetDevice, bool) {
	return s.profile.PhysicalTarget(id)
}

func (s *Store) VirtualTarget(id profile.ID) (*profile.VirtualTargetDevice, bool) {
	return s.profile.VirtualTarget(id)
}

// RegisterSourceFilters records both mix filters of a source at once
func (s *Store) RegisterSourceFilters(id profile.ID, filters [2]registry.HostID) {
	s.sourceFilters[id] = filters
	s.sourceSeen[id] = [2]bool{true, true}
}

// RegisterSourceFilter records one half of a source's filter pair and
// reports whether the pair is now complete
func (s *Store) RegisterSourceFilter(id profile.ID, mix profile.Mix, host registry.HostID) bool {
	pair := s.sourceFilters[id]
	seen := s.sourceSeen[id]
	pair[mix] = host
	seen[mix] = true
	s.sourceFilters[id] = pair
	s.sourceSeen[id] = seen
	return seen[profile.MixA] && seen[profile.MixB]
}

// SourceFilters returns the source map of a source, only once both halves
// are known
func (s *Store) SourceFilters(id profile.ID) ([2]registry.HostID, bool) {
	seen := s.sourceSeen[id]
	if !seen[profile.MixA] || !seen[profile.MixB] {
		return [2]registry.HostID{}, false
	}
	return s.sourceFilters[id], true
}

func (s *Store) RegisterTargetFilter(id profile.ID, host registry.HostID) {
	s.targetFilters[id] = host
}

func (s *Store) TargetFilter(id profile.ID) (registry.HostID, bool) {
	host, ok := s.targetFilters[id]
	return host, ok
}

func (s *Store) RegisterVirtualInput(id profile.ID, host registry.HostID) {
	s.virtualInputs[id] = host
}

func (s *Store) VirtualInput(id profile.ID) (registry.HostID, bool) {
	host, ok := s.virtualInputs[id]
	return host, ok
}

// RegisterDeviceBinding records which host device node a physical profile
// node is currently attached to
func (s *Store) RegisterDeviceBinding(id profile.ID, host registry.HostID) {
	s.devices[id] = host
}

func (s *Store) DeviceBinding(id profile.ID) (registry.HostID, bool) {
	host, ok := s.devices[id]
	return host, ok
}

// Register records a host node whose name follows the filter naming scheme
func (s *Store) Register(f Filter, host registry.HostID) {
	switch f.Role {
	case RoleSourceFilter:
		s.RegisterSourceFilter(f.Node, f.Mix, host)
	case RoleTargetFilter:
		s.RegisterTargetFilter(f.Node, host)
	case RoleVirtualInput:
		s.RegisterVirtualInput(f.Node, host)
	}
}

// Forget drops every mapping that points at a removed host node and
// returns the profile nodes that lost one
func (s *Store) Forget(host registry.HostID) []profile.ID {
	var affected []profile.ID

	for id, pair := range s.sourceFilters {
		seen := s.sourceSeen[id]
		changed := false
		for mix := range pair {
			if seen[mix] && pair[mix] == host {
				seen[mix] = false
				changed = true
			}
		}
		if changed {
			s.sourceSeen[id] = seen
			affected = append(affected, id)
		}
	}
	for id, h := range s.targetFilters {
		if h == host {
			delete(s.targetFilters, id)
			affected = append(affected, id)
		}
	}
	for id, h := range s.virtualInputs {
		if h == host {
			delete(s.virtualInputs, id)
			affected = append(affected, id)
		}
	}
	for id, h := range s.devices {
		if h == host {
			delete(s.devices, id)
			affected = append(affected, id)
		}
	}

	if len(affected) > 0 {
		slog.Debug("Forgot host node", "host", host, "nodes", len(affected))
	}
	return affected
}

// Filters lists every host node the profile needs, in profile order
func (s *Store) Filters() []Filter {
	var filters []Filter

	for _, d := range s.profile.Devices.Sources.Physical {
		filters = append(filters, sourceFilters(d.Description)...)
	}
	for _, d := range s.profile.Devices.Sources.Virtual {
		filters = append(filters, sourceFilters(d.Description)...)
		filters = append(filters, Filter{
			Name:        VirtualInputName(d.ID),
			Description: d.Name,
			Role:        RoleVirtualInput,
			Node:        d.ID,
		})
	}
	for _, d := range s.profile.Devices.Targets.Physical {
		filters = append(filters, targetFilter(d.Description))
	}
	for _, d := range s.profile.Devices.Targets.Virtual {
		filters = append(filters, targetFilter(d.Description))
	}

	return filters
}

func sourceFilters(d profile.Description) []Filter {
	filters := make([]Filter, 0, len(profile.Mixes))
	for _, mix := range profile.Mixes {
		filters = append(filters, Filter{
			Name:        SourceFilterName(d.ID, mix),
			Description: d.Name + " (Mix " + mix.String() + ")",
			Role:        RoleSourceFilter,
			Node:        d.ID,
			Mix:         mix,
		})
	}
	return filters
}

func targetFilter(d profile.Description) Filter {
	return Filter{
		Name:        TargetFilterName(d.ID),
		Description: d.Name,
		Role:        RoleTargetFilter,
		Node:        d.ID,
	}
}

// Host returns the host node registered for f
func (s *Store) Host(f Filter) (registry.HostID, bool) {
	switch f.Role {
	case RoleSourceFilter:
		if !s.sourceSeen[f.Node][f.Mix] {
			return 0, false
		}
		return s.sourceFilters[f.Node][f.Mix], true
	case RoleTargetFilter:
		host, ok := s.targetFilters[f.Node]
		return host, ok
	case RoleVirtualInput:
		host, ok := s.virtualInputs[f.Node]
		return host, ok
	}
	return 0, false
}

// Registered reports whether the host node for f is known
func (s *Store) Registered(f Filter) bool {
	_, ok := s.Host(f)
	return ok
}

// Wants reports whether the profile needs a host node named like f
func (s *Store) Wants(f Filter) bool {
	for _, want := range s.Filters() {
		if want.Name == f.Name {
			return true
		}
	}
	return false
}

// Pending lists the filters the profile needs that are not registered yet
func (s *Store) Pending() []Filter {
	var pending []Filter
	for _, f := range s.Filters() {
		if !s.Registered(f) {
			pending = append(pending, f)
		}
	}
	return pending
}
