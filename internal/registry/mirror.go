// Package registry keeps a local, queryable copy of the PipeWire object graph.
//
// The mirror is fed with parsed globals and removals and is owned by a single
// goroutine; it does no locking of its own. Objects reference each other by
// host id only (device -> node -> port). A child seen before its parent is
// held back until the parent arrives.
package registry

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
)

type NotificationKind int

const (
	// NodeReady fires when a port is attached to a device or managed node
	NodeReady NotificationKind = iota + 1
	// NodeRemoved fires when any node leaves the graph
	NodeRemoved
	// LinksChanged fires when a link between Node and Peer appears or goes
	LinksChanged
)

// Notification tells the owner of the mirror that something it may be
// waiting on has changed
type Notification struct {
	Kind NotificationKind
	Node HostID
	Peer HostID
}

// Mirror is the local shadow of the host registry
type Mirror struct {
	managedPrefix string

	devices      map[HostID]*Device
	deviceNodes  map[HostID]*DeviceNode
	clients      map[HostID]*Client
	clientNodes  map[HostID]*ClientNode
	managedNodes map[HostID]*ManagedNode
	links        map[HostID]Link
	factories    map[HostID]Factory

	// port id -> owning node id
	portOwner map[HostID]HostID

	// objects seen before their parent, keyed by parent id
	pendingPorts       map[HostID]map[HostID]pendingPort
	pendingDeviceNodes map[HostID]map[HostID]*DeviceNode
	pendingClientNodes map[HostID]map[HostID]*ClientNode
}

type pendingPort struct {
	direction Direction
	port      Port
}

// New creates an empty mirror. Nodes whose node.name starts with
// managedPrefix are tracked as ManagedNodes.
func New(managedPrefix string) *Mirror {
	m := &Mirror{managedPrefix: managedPrefix}
	m.Reset()
	return m
}

// Reset forgets every object, used when the registry stream restarts and
// replays the whole graph
func (m *Mirror) Reset() {
	m.devices = make(map[HostID]*Device)
	m.deviceNodes = make(map[HostID]*DeviceNode)
	m.clients = make(map[HostID]*Client)
	m.clientNodes = make(map[HostID]*ClientNode)
	m.managedNodes = make(map[HostID]*ManagedNode)
	m.links = make(map[HostID]Link)
	m.factories = make(map[HostID]Factory)
	m.portOwner = make(map[HostID]HostID)
	m.pendingPorts = make(map[HostID]map[HostID]pendingPort)
	m.pendingDeviceNodes = make(map[HostID]map[HostID]*DeviceNode)
	m.pendingClientNodes = make(map[HostID]map[HostID]*ClientNode)
}

// Global records an added (or updated) registry object. Objects whose
// properties cannot be parsed are skipped.
func (m *Mirror) Global(id HostID, objectType string, props Props) []Notification {
	switch ParseObjectType(objectType).Kind {
	case TypeDevice:
		device := parseDevice(props)
		if existing, ok := m.devices[id]; ok {
			device.Nodes = existing.Nodes
		}
		m.devices[id] = device

		var notes []Notification
		for nodeID, node := range m.pendingDeviceNodes[id] {
			notes = append(notes, m.attachDeviceNode(nodeID, node)...)
		}
		delete(m.pendingDeviceNodes, id)
		return notes

	case TypeNode:
		return m.addNode(id, props)

	case TypePort:
		return m.addPort(id, props)

	case TypeLink:
		link, err := parseLink(props)
		if err != nil {
			slog.Debug("Skipping unusable link", "id", id, "error", err)
			return nil
		}
		m.links[id] = link
		return []Notification{{Kind: LinksChanged, Node: link.InputNode, Peer: link.OutputNode}}

	case TypeFactory:
		factory, err := parseFactory(props)
		if err != nil {
			slog.Debug("Skipping unusable factory", "id", id, "error", err)
			return nil
		}
		m.factories[id] = factory

	case TypeClient:
		client, err := parseClient(props)
		if err != nil {
			slog.Debug("Skipping unusable client", "id", id, "error", err)
			return nil
		}
		if existing, ok := m.clients[id]; ok {
			client.Nodes = existing.Nodes
		}
		m.clients[id] = client

		for nodeID, node := range m.pendingClientNodes[id] {
			m.attachClientNode(nodeID, node)
		}
		delete(m.pendingClientNodes, id)
	}

	return nil
}

func (m *Mirror) addNode(id HostID, props Props) []Notification {
	name := props[keyNodeName]
	if m.managedPrefix != "" && strings.HasPrefix(name, m.managedPrefix) {
		if existing, ok := m.managedNodes[id]; ok {
			existing.Description = props[keyNodeDescription]
			return nil
		}
		m.managedNodes[id] = &ManagedNode{Name: name, Description: props[keyNodeDescription]}
		return m.adoptPorts(id, &m.managedNodes[id].Ports, true)
	}

	if node, err := parseDeviceNode(props); err == nil {
		if existing, ok := m.deviceNodes[id]; ok {
			existing.Nickname, existing.Description, existing.Name = node.Nickname, node.Description, node.Name
			return nil
		}
		if _, ok := m.devices[node.ParentID]; ok {
			return m.attachDeviceNode(id, node)
		}
		slog.Debug("Device node waiting for its device", "id", id, "device", node.ParentID)
		pending(m.pendingDeviceNodes, node.ParentID)[id] = node
		return nil
	}

	node, err := parseClientNode(props)
	if err != nil {
		slog.Debug("Skipping unusable node", "id", id, "error", err)
		return nil
	}
	if existing, ok := m.clientNodes[id]; ok {
		existing.ApplicationName, existing.NodeName = node.ApplicationName, node.NodeName
		return nil
	}
	if _, ok := m.clients[node.ParentID]; ok {
		m.attachClientNode(id, node)
		return nil
	}
	pending(m.pendingClientNodes, node.ParentID)[id] = node
	return nil
}

func (m *Mirror) attachDeviceNode(id HostID, node *DeviceNode) []Notification {
	device := m.devices[node.ParentID]
	device.Nodes = append(device.Nodes, id)
	m.deviceNodes[id] = node
	return m.adoptPorts(id, &node.Ports, true)
}

func (m *Mirror) attachClientNode(id HostID, node *ClientNode) {
	client := m.clients[node.ParentID]
	client.Nodes = append(client.Nodes, id)
	m.clientNodes[id] = node
	m.adoptPorts(id, &node.Ports, false)
}

// adoptPorts moves ports that arrived before their node onto it
func (m *Mirror) adoptPorts(id HostID, ports *Ports, notify bool) []Notification {
	waiting, ok := m.pendingPorts[id]
	if !ok {
		return nil
	}
	delete(m.pendingPorts, id)

	for portID, p := range waiting {
		ports.add(p.direction, p.port)
		m.portOwner[portID] = id
	}
	if !notify {
		return nil
	}
	return []Notification{{Kind: NodeReady, Node: id}}
}

func pending[T any](byParent map[HostID]map[HostID]T, parent HostID) map[HostID]T {
	children, ok := byParent[parent]
	if !ok {
		children = make(map[HostID]T)
		byParent[parent] = children
	}
	return children
}

func (m *Mirror) addPort(id HostID, props Props) []Notification {
	nodeID, direction, port, err := parsePort(id, props)
	if err != nil {
		if !errors.Is(err, errUnusableDirection) {
			slog.Debug("Skipping unusable port", "id", id, "error", err)
		}
		return nil
	}

	if node, ok := m.deviceNodes[nodeID]; ok {
		node.Ports.add(direction, port)
		m.portOwner[id] = nodeID
		return []Notification{{Kind: NodeReady, Node: nodeID}}
	}
	if node, ok := m.managedNodes[nodeID]; ok {
		node.Ports.add(direction, port)
		m.portOwner[id] = nodeID
		return []Notification{{Kind: NodeReady, Node: nodeID}}
	}
	if node, ok := m.clientNodes[nodeID]; ok {
		node.Ports.add(direction, port)
		m.portOwner[id] = nodeID
		return nil
	}

	slog.Debug("Port waiting for its node", "id", id, "node", nodeID)
	pending(m.pendingPorts, nodeID)[id] = pendingPort{direction: direction, port: port}
	return nil
}

// Remove deletes the object with the given id from whichever collection
// holds it and prunes every reference to it. Removing a device or client
// also removes its nodes.
func (m *Mirror) Remove(id HostID) []Notification {
	if device, ok := m.devices[id]; ok {
		var notes []Notification
		for _, nodeID := range slices.Clone(device.Nodes) {
			notes = append(notes, m.Remove(nodeID)...)
		}
		m.dropPendingChildren(id)
		delete(m.devices, id)
		return notes
	}

	if node, ok := m.deviceNodes[id]; ok {
		if device, ok := m.devices[node.ParentID]; ok {
			device.Nodes = slices.DeleteFunc(device.Nodes, func(n HostID) bool { return n == id })
		}
		m.forgetPorts(node.Ports)
		delete(m.deviceNodes, id)
		delete(m.pendingPorts, id)
		return m.nodeRemoved(id)
	}

	if node, ok := m.clientNodes[id]; ok {
		if client, ok := m.clients[node.ParentID]; ok {
			client.Nodes = slices.DeleteFunc(client.Nodes, func(n HostID) bool { return n == id })
		}
		m.forgetPorts(node.Ports)
		delete(m.clientNodes, id)
		delete(m.pendingPorts, id)
		return m.nodeRemoved(id)
	}

	if node, ok := m.managedNodes[id]; ok {
		m.forgetPorts(node.Ports)
		delete(m.managedNodes, id)
		delete(m.pendingPorts, id)
		return m.nodeRemoved(id)
	}

	if owner, ok := m.portOwner[id]; ok {
		delete(m.portOwner, id)
		if ports := m.ports(owner); ports != nil {
			ports.remove(id)
		}
		return nil
	}

	if link, ok := m.links[id]; ok {
		delete(m.links, id)
		return []Notification{{Kind: LinksChanged, Node: link.InputNode, Peer: link.OutputNode}}
	}

	if client, ok := m.clients[id]; ok {
		var notes []Notification
		for _, nodeID := range slices.Clone(client.Nodes) {
			notes = append(notes, m.Remove(nodeID)...)
		}
		m.dropPendingChildren(id)
		delete(m.clients, id)
		return notes
	}

	if m.dropPending(id) {
		return nil
	}

	delete(m.factories, id)
	return nil
}

func (m *Mirror) dropPendingChildren(parent HostID) {
	for nodeID := range m.pendingDeviceNodes[parent] {
		delete(m.pendingPorts, nodeID)
	}
	for nodeID := range m.pendingClientNodes[parent] {
		delete(m.pendingPorts, nodeID)
	}
	delete(m.pendingDeviceNodes, parent)
	delete(m.pendingClientNodes, parent)
}

// dropPending forgets an object that is still waiting for its parent
func (m *Mirror) dropPending(id HostID) bool {
	for parent, nodes := range m.pendingDeviceNodes {
		if _, ok := nodes[id]; ok {
			delete(nodes, id)
			if len(nodes) == 0 {
				delete(m.pendingDeviceNodes, parent)
			}
			delete(m.pendingPorts, id)
			return true
		}
	}
	for parent, nodes := range m.pendingClientNodes {
		if _, ok := nodes[id]; ok {
			delete(nodes, id)
			if len(nodes) == 0 {
				delete(m.pendingClientNodes, parent)
			}
			delete(m.pendingPorts, id)
			return true
		}
	}
	for node, ports := range m.pendingPorts {
		if _, ok := ports[id]; ok {
			delete(ports, id)
			if len(ports) == 0 {
				delete(m.pendingPorts, node)
			}
			return true
		}
	}
	return false
}

func (m *Mirror) forgetPorts(ports Ports) {
	for _, byID := range ports {
		for portID := range byID {
			delete(m.portOwner, portID)
		}
	}
}

// nodeRemoved drops links touching the node; the host removes them too but
// may announce it after the node itself
func (m *Mirror) nodeRemoved(id HostID) []Notification {
	for linkID, link := range m.links {
		if link.InputNode == id || link.OutputNode == id {
			delete(m.links, linkID)
		}
	}
	return []Notification{{Kind: NodeRemoved, Node: id}}
}

func (m *Mirror) ports(node HostID) *Ports {
	if n, ok := m.deviceNodes[node]; ok {
		return &n.Ports
	}
	if n, ok := m.managedNodes[node]; ok {
		return &n.Ports
	}
	if n, ok := m.clientNodes[node]; ok {
		return &n.Ports
	}
	return nil
}

func (m *Mirror) Device(id HostID) (*Device, bool) {
	d, ok := m.devices[id]
	return d, ok
}

func (m *Mirror) DeviceNode(id HostID) (*DeviceNode, bool) {
	n, ok := m.deviceNodes[id]
	return n, ok
}

func (m *Mirror) Client(id HostID) (*Client, bool) {
	c, ok := m.clients[id]
	return c, ok
}

func (m *Mirror) ClientNode(id HostID) (*ClientNode, bool) {
	n, ok := m.clientNodes[id]
	return n, ok
}

func (m *Mirror) ManagedNode(id HostID) (*ManagedNode, bool) {
	n, ok := m.managedNodes[id]
	return n, ok
}

func (m *Mirror) Link(id HostID) (Link, bool) {
	l, ok := m.links[id]
	return l, ok
}

// HasNode reports whether id is any kind of node
func (m *Mirror) HasNode(id HostID) bool {
	return m.ports(id) != nil
}

// PortOwner returns the node a port belongs to
func (m *Mirror) PortOwner(port HostID) (HostID, bool) {
	owner, ok := m.portOwner[port]
	return owner, ok
}

// Ports returns a node's ports in one direction, ordered by id
func (m *Mirror) Ports(node HostID, direction Direction) []Port {
	ports := m.ports(node)
	if ports == nil {
		return nil
	}

	result := make([]Port, 0, len(ports[direction]))
	for _, port := range ports[direction] {
		result = append(result, port)
	}
	slices.SortFunc(result, func(a, b Port) int { return int(a.ID) - int(b.ID) })
	return result
}

// Ready reports whether a node has at least one port in every given direction
func (m *Mirror) Ready(node HostID, directions ...Direction) bool {
	ports := m.ports(node)
	if ports == nil {
		return false
	}
	for _, direction := range directions {
		if len(ports[direction]) == 0 {
			return false
		}
	}
	return true
}

// LinksBetween returns the ids of observed links from output node out to
// input node in
func (m *Mirror) LinksBetween(out, in HostID) []HostID {
	var ids []HostID
	for id, link := range m.links {
		if link.OutputNode == out && link.InputNode == in {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// FindManagedNode looks up a daemon-created node by its node.name
func (m *Mirror) FindManagedNode(name string) (HostID, bool) {
	for _, id := range sortedKeys(m.managedNodes) {
		if m.managedNodes[id].Name == name {
			return id, true
		}
	}
	return 0, false
}

// ManagedNodes returns the ids of every daemon-created node
func (m *Mirror) ManagedNodes() []HostID {
	return sortedKeys(m.managedNodes)
}

// FindDeviceNode returns the lowest-id device node whose name, description
// or nickname equals one of match and that has ports in direction
func (m *Mirror) FindDeviceNode(match []string, direction Direction) (HostID, bool) {
	if len(match) == 0 {
		return 0, false
	}
	for _, id := range sortedKeys(m.deviceNodes) {
		node := m.deviceNodes[id]
		if len(node.Ports[direction]) == 0 {
			continue
		}
		for _, candidate := range match {
			if candidate == "" {
				continue
			}
			if candidate == node.Name || candidate == node.Description || candidate == node.Nickname {
				return id, true
			}
		}
	}
	return 0, false
}

// Factory looks up a factory by name
func (m *Mirror) Factory(name string) (Factory, bool) {
	for _, id := range sortedKeys(m.factories) {
		if m.factories[id].Name == name {
			return m.factories[id], true
		}
	}
	return Factory{}, false
}

// Counts returns the number of tracked objects per collection
func (m *Mirror) Counts() map[string]int {
	return map[string]int{
		"device":       len(m.devices),
		"device_node":  len(m.deviceNodes),
		"client":       len(m.clients),
		"client_node":  len(m.clientNodes),
		"managed_node": len(m.managedNodes),
		"port":         len(m.portOwner),
		"link":         len(m.links),
		"factory":      len(m.factories),
	}
}

func sortedKeys[V any](m map[HostID]V) []HostID {
	ids := make([]HostID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// DeviceNodes returns the ids of every device node, lowest first
func (m *Mirror) DeviceNodes() []HostID {
	return sortedKeys(m.deviceNodes)
}
