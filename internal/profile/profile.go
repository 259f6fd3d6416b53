package profile

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Profile is the persisted routing matrix plus the node definitions it
// refers to. It is owned by the manager loop and is not safe for
// concurrent use.
type Profile struct {
	Devices Devices         `yaml:"devices" json:"devices"`
	Routes  map[ID]RouteSet `yaml:"routes" json:"routes"`
}

type Devices struct {
	Sources SourceDevices `yaml:"sources" json:"sources"`
	Targets TargetDevices `yaml:"targets" json:"targets"`
}

type SourceDevices struct {
	Physical []*PhysicalSourceDevice `yaml:"physical_devices" json:"physical_devices"`
	Virtual  []*VirtualSourceDevice  `yaml:"virtual_devices" json:"virtual_devices"`
}

type TargetDevices struct {
	Physical []*PhysicalTargetDevice `yaml:"physical_devices" json:"physical_devices"`
	Virtual  []*VirtualTargetDevice  `yaml:"virtual_devices" json:"virtual_devices"`
}

// Description holds the attributes every node shares
type Description struct {
	ID   ID     `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// PhysicalSourceDevice is a capture device. Match lists the host node names
// or descriptions it binds to.
type PhysicalSourceDevice struct {
	Description `yaml:",inline"`
	Match       []string   `yaml:"match,omitempty" json:"match"`
	Volumes     [2]uint8   `yaml:"volumes" json:"volumes"`
	MuteStates  MuteStates `yaml:"mute_states" json:"mute_states"`
}

type VirtualSourceDevice struct {
	Description `yaml:",inline"`
	Volumes     [2]uint8   `yaml:"volumes" json:"volumes"`
	MuteStates  MuteStates `yaml:"mute_states" json:"mute_states"`
}

type PhysicalTargetDevice struct {
	Description `yaml:",inline"`
	Match       []string `yaml:"match,omitempty" json:"match"`
	Volume      uint8    `yaml:"volume" json:"volume"`
	Mix         Mix      `yaml:"mix" json:"mix"`
}

type VirtualTargetDevice struct {
	Description `yaml:",inline"`
	Volume      uint8 `yaml:"volume" json:"volume"`
	Mix         Mix   `yaml:"mix" json:"mix"`
}

// MuteStates holds a source's two mute dimensions, indexed by MuteTarget
type MuteStates [2]MuteState

// MuteState is one mute dimension. An active state with no targets mutes
// the source to every target.
type MuteState struct {
	Active  bool `yaml:"active" json:"active"`
	Targets []ID `yaml:"targets,omitempty" json:"targets"`
}

// Covers reports whether this state, when active, silences target
func (m MuteState) Covers(target ID) bool {
	if len(m.Targets) == 0 {
		return true
	}
	return slices.Contains(m.Targets, target)
}

// RouteSet is the set of targets a source is routed to
type RouteSet map[ID]struct{}

// Sorted returns the members in ID order
func (s RouteSet) Sorted() []ID {
	ids := make([]ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func (s RouteSet) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

func (s *RouteSet) UnmarshalYAML(value *yaml.Node) error {
	var ids []ID
	if err := value.Decode(&ids); err != nil {
		return err
	}
	*s = newRouteSet(ids)
	return nil
}

func (s RouteSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *RouteSet) UnmarshalJSON(data []byte) error {
	var ids []ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = newRouteSet(ids)
	return nil
}

func newRouteSet(ids []ID) RouteSet {
	set := make(RouteSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortIDs(ids []ID) {
	slices.SortFunc(ids, func(a, b ID) int { return a.Compare(b) })
}

// New returns an empty profile
func New() *Profile {
	return &Profile{Routes: make(map[ID]RouteSet)}
}

// Kind returns the kind of the node with the given id
func (p *Profile) Kind(id ID) (NodeKind, bool) {
	if _, ok := p.PhysicalSource(id); ok {
		return PhysicalSource, true
	}
	if _, ok := p.VirtualSource(id); ok {
		return VirtualSource, true
	}
	if _, ok := p.PhysicalTarget(id); ok {
		return PhysicalTarget, true
	}
	if _, ok := p.VirtualTarget(id); ok {
		return VirtualTarget, true
	}
	return 0, false
}

func (p *Profile) PhysicalSource(id ID) (*PhysicalSourceDevice, bool) {
	for _, d := range p.Devices.Sources.Physical {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

func (p *Profile) VirtualSource(id ID) (*VirtualSourceDevice, bool) {
	for _, d := range p.Devices.Sources.Virtual {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

func (p *Profile) PhysicalTarget(id ID) (*PhysicalTargetDevice, bool) {
	for _, d := range p.Devices.Targets.Physical {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

func (p *Profile) VirtualTarget(id ID) (*VirtualTargetDevice, bool) {
	for _, d := range p.Devices.Targets.Virtual {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// Description returns the shared attributes of any node
func (p *Profile) Description(id ID) (*Description, bool) {
	if d, ok := p.PhysicalSource(id); ok {
		return &d.Description, true
	}
	if d, ok := p.VirtualSource(id); ok {
		return &d.Description, true
	}
	if d, ok := p.PhysicalTarget(id); ok {
		return &d.Description, true
	}
	if d, ok := p.VirtualTarget(id); ok {
		return &d.Description, true
	}
	return nil, false
}

// Sources returns every source id, physical first, in definition order
func (p *Profile) Sources() []ID {
	var ids []ID
	for _, d := range p.Devices.Sources.Physical {
		ids = append(ids, d.ID)
	}
	for _, d := range p.Devices.Sources.Virtual {
		ids = append(ids, d.ID)
	}
	return ids
}

// Targets returns every target id, physical first, in definition order
func (p *Profile) Targets() []ID {
	var ids []ID
	for _, d := range p.Devices.Targets.Physical {
		ids = append(ids, d.ID)
	}
	for _, d := range p.Devices.Targets.Virtual {
		ids = append(ids, d.ID)
	}
	return ids
}

// MuteStates returns the mute dimensions of a source
func (p *Profile) MuteStates(source ID) (*MuteStates, bool) {
	if d, ok := p.PhysicalSource(source); ok {
		return &d.MuteStates, true
	}
	if d, ok := p.VirtualSource(source); ok {
		return &d.MuteStates, true
	}
	return nil, false
}

// ActiveMix returns the mix currently feeding a target
func (p *Profile) ActiveMix(target ID) (Mix, bool) {
	if d, ok := p.PhysicalTarget(target); ok {
		return d.Mix, true
	}
	if d, ok := p.VirtualTarget(target); ok {
		return d.Mix, true
	}
	return MixA, false
}

// SetMix changes a target's active mix. It reports false for unknown targets.
func (p *Profile) SetMix(target ID, mix Mix) bool {
	if d, ok := p.PhysicalTarget(target); ok {
		d.Mix = mix
		return true
	}
	if d, ok := p.VirtualTarget(target); ok {
		d.Mix = mix
		return true
	}
	return false
}

// HasRouteTable reports whether source has an entry in the routing matrix
func (p *Profile) HasRouteTable(source ID) bool {
	_, ok := p.Routes[source]
	return ok
}

// EnsureRouteTable creates an empty route set for source if none exists and
// reports whether it had to
func (p *Profile) EnsureRouteTable(source ID) bool {
	if p.Routes == nil {
		p.Routes = make(map[ID]RouteSet)
	}
	if _, ok := p.Routes[source]; ok {
		return false
	}
	p.Routes[source] = make(RouteSet)
	return true
}

// HasRoute reports whether routing source to target has been requested
func (p *Profile) HasRoute(source, target ID) bool {
	_, ok := p.Routes[source][target]
	return ok
}

// SetRoute adds or removes target from source's route set
func (p *Profile) SetRoute(source, target ID, enabled bool) {
	p.EnsureRouteTable(source)
	if enabled {
		p.Routes[source][target] = struct{}{}
	} else {
		delete(p.Routes[source], target)
	}
}

// RouteSources returns every source with a route table, in ID order
func (p *Profile) RouteSources() []ID {
	ids := make([]ID, 0, len(p.Routes))
	for id := range p.Routes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// RoutedTargets returns the targets source is routed to, in ID order
func (p *Profile) RoutedTargets(source ID) []ID {
	return p.Routes[source].Sorted()
}

// RoutedSources returns the sources routed to target, in ID order
func (p *Profile) RoutedSources(target ID) []ID {
	var ids []ID
	for source, targets := range p.Routes {
		if _, ok := targets[target]; ok {
			ids = append(ids, source)
		}
	}
	sortIDs(ids)
	return ids
}

// AddNode defines a new node and returns its id. Match is only kept for
// physical kinds.
func (p *Profile) AddNode(kind NodeKind, name string, match []string) ID {
	desc := Description{ID: NewID(), Name: name}
	switch kind {
	case PhysicalSource:
		p.Devices.Sources.Physical = append(p.Devices.Sources.Physical, &PhysicalSourceDevice{
			Description: desc, Match: match, Volumes: [2]uint8{100, 100},
		})
		p.EnsureRouteTable(desc.ID)
	case VirtualSource:
		p.Devices.Sources.Virtual = append(p.Devices.Sources.Virtual, &VirtualSourceDevice{
			Description: desc, Volumes: [2]uint8{100, 100},
		})
		p.EnsureRouteTable(desc.ID)
	case PhysicalTarget:
		p.Devices.Targets.Physical = append(p.Devices.Targets.Physical, &PhysicalTargetDevice{
			Description: desc, Match: match, Volume: 100,
		})
	case VirtualTarget:
		p.Devices.Targets.Virtual = append(p.Devices.Targets.Virtual, &VirtualTargetDevice{
			Description: desc, Volume: 100,
		})
	}
	return desc.ID
}

// RemoveNode deletes a node and every route and mute target that refers to it
func (p *Profile) RemoveNode(id ID) bool {
	kind, ok := p.Kind(id)
	if !ok {
		return false
	}

	switch kind {
	case PhysicalSource:
		p.Devices.Sources.Physical = slices.DeleteFunc(p.Devices.Sources.Physical, func(d *PhysicalSourceDevice) bool { return d.ID == id })
	case VirtualSource:
		p.Devices.Sources.Virtual = slices.DeleteFunc(p.Devices.Sources.Virtual, func(d *VirtualSourceDevice) bool { return d.ID == id })
	case PhysicalTarget:
		p.Devices.Targets.Physical = slices.DeleteFunc(p.Devices.Targets.Physical, func(d *PhysicalTargetDevice) bool { return d.ID == id })
	case VirtualTarget:
		p.Devices.Targets.Virtual = slices.DeleteFunc(p.Devices.Targets.Virtual, func(d *VirtualTargetDevice) bool { return d.ID == id })
	}

	delete(p.Routes, id)
	for _, targets := range p.Routes {
		delete(targets, id)
	}
	for _, source := range p.Sources() {
		states, _ := p.MuteStates(source)
		for i := range states {
			states[i].Targets = slices.DeleteFunc(states[i].Targets, func(t ID) bool { return t == id })
		}
	}
	return true
}

// RenameNode changes a node's display name
func (p *Profile) RenameNode(id ID, name string) bool {
	desc, ok := p.Description(id)
	if !ok {
		return false
	}
	desc.Name = name
	return true
}

// SetVolume stores a volume. Sources keep one volume per mix, targets a
// single one and ignore mix.
func (p *Profile) SetVolume(id ID, mix Mix, volume uint8) bool {
	if d, ok := p.PhysicalSource(id); ok {
		d.Volumes[mix] = volume
		return true
	}
	if d, ok := p.VirtualSource(id); ok {
		d.Volumes[mix] = volume
		return true
	}
	if d, ok := p.PhysicalTarget(id); ok {
		d.Volume = volume
		return true
	}
	if d, ok := p.VirtualTarget(id); ok {
		d.Volume = volume
		return true
	}
	return false
}

// Sanitize drops state that violates the profile's invariants: duplicate
// ids, route tables keyed by non-sources, routes to non-targets and mute
// targets that are not targets. It returns a description of each fix.
func (p *Profile) Sanitize() []string {
	var fixes []string

	// the first definition of an id wins, in Sources() then Targets() order
	seen := make(map[ID]bool)
	d := &p.Devices
	d.Sources.Physical = dropDuplicates(d.Sources.Physical, seen, &fixes)
	d.Sources.Virtual = dropDuplicates(d.Sources.Virtual, seen, &fixes)
	d.Targets.Physical = dropDuplicates(d.Targets.Physical, seen, &fixes)
	d.Targets.Virtual = dropDuplicates(d.Targets.Virtual, seen, &fixes)

	if p.Routes == nil {
		p.Routes = make(map[ID]RouteSet)
	}
	for _, source := range p.RouteSources() {
		kind, ok := p.Kind(source)
		if !ok || !kind.IsSource() {
			delete(p.Routes, source)
			fixes = append(fixes, fmt.Sprintf("dropped route table for non-source %s", source))
			continue
		}
		for _, target := range p.RoutedTargets(source) {
			kind, ok := p.Kind(target)
			if !ok || !kind.IsTarget() {
				delete(p.Routes[source], target)
				fixes = append(fixes, fmt.Sprintf("dropped route %s -> %s", source, target))
			}
		}
	}

	for _, source := range p.Sources() {
		p.EnsureRouteTable(source)
		states, _ := p.MuteStates(source)
		for i := range states {
			states[i].Targets = slices.DeleteFunc(states[i].Targets, func(t ID) bool {
				kind, ok := p.Kind(t)
				if !ok || !kind.IsTarget() {
					fixes = append(fixes, fmt.Sprintf("dropped mute target %s from %s", t, source))
					return true
				}
				return false
			})
		}
	}

	return fixes
}

type describedNode interface {
	describe() *Description
}

func (d *Description) describe() *Description { return d }

func dropDuplicates[T describedNode](nodes []T, seen map[ID]bool, fixes *[]string) []T {
	return slices.DeleteFunc(nodes, func(n T) bool {
		id := n.describe().ID
		if seen[id] {
			*fixes = append(*fixes, fmt.Sprintf("dropped duplicate node %s (%s)", id, n.describe().Name))
			return true
		}
		seen[id] = true
		return false
	})
}
