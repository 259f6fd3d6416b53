package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// HostID is an object id assigned by the PipeWire server. IDs are reused
// after an object is removed.
type HostID = uint32

// Property keys used when parsing registry globals
const (
	keyDeviceNick        = "device.nick"
	keyDeviceDescription = "device.description"
	keyDeviceName        = "device.name"
	keyDeviceID          = "device.id"
	keyNodeNick          = "node.nick"
	keyNodeDescription   = "node.description"
	keyNodeName          = "node.name"
	keyClientID          = "client.id"
	keyAppName           = "application.name"
	keyNodeID            = "node.id"
	keyPortID            = "port.id"
	keyPortName          = "port.name"
	keyAudioChannel      = "audio.channel"
	keyPortDirection     = "port.direction"
	keyPortMonitor       = "port.monitor"
	keyLinkInputNode     = "link.input.node"
	keyLinkInputPort     = "link.input.port"
	keyLinkOutputNode    = "link.output.node"
	keyLinkOutputPort    = "link.output.port"
	keyModuleID          = "module.id"
	keyFactoryName       = "factory.name"
	keyFactoryTypeName   = "factory.type.name"
	keyFactoryVersion    = "factory.type.version"
	keyProtocol          = "pipewire.protocol"
	keySecPID            = "pipewire.sec.pid"
	keySecUID            = "pipewire.sec.uid"
	keySecGID            = "pipewire.sec.gid"
	keyAccess            = "pipewire.access"
)

// Direction of a port
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// ObjectType identifies the interface of a registry global
type ObjectType struct {
	Kind  ObjectKind
	Other string
}

type ObjectKind int

const (
	TypeOther ObjectKind = iota
	TypeClient
	TypeClientEndpoint
	TypeClientNode
	TypeClientSession
	TypeCore
	TypeDevice
	TypeEndpoint
	TypeEndpointLink
	TypeEndpointStream
	TypeFactory
	TypeLink
	TypeMetadata
	TypeModule
	TypeNode
	TypePort
	TypeProfiler
	TypeRegistry
	TypeSession
)

var objectKinds = map[string]ObjectKind{
	"PipeWire:Interface:Client":         TypeClient,
	"PipeWire:Interface:ClientEndpoint": TypeClientEndpoint,
	"PipeWire:Interface:ClientNode":     TypeClientNode,
	"PipeWire:Interface:ClientSession":  TypeClientSession,
	"PipeWire:Interface:Core":           TypeCore,
	"PipeWire:Interface:Device":         TypeDevice,
	"PipeWire:Interface:Endpoint":       TypeEndpoint,
	"PipeWire:Interface:EndpointLink":   TypeEndpointLink,
	"PipeWire:Interface:EndpointStream": TypeEndpointStream,
	"PipeWire:Interface:Factory":        TypeFactory,
	"PipeWire:Interface:Link":           TypeLink,
	"PipeWire:Interface:Metadata":       TypeMetadata,
	"PipeWire:Interface:Module":         TypeModule,
	"PipeWire:Interface:Node":           TypeNode,
	"PipeWire:Interface:Port":           TypePort,
	"PipeWire:Interface:Profiler":       TypeProfiler,
	"PipeWire:Interface:Registry":       TypeRegistry,
	"PipeWire:Interface:Session":        TypeSession,
}

// ParseObjectType maps an interface name to its ObjectType. Unknown names
// are kept verbatim in Other.
func ParseObjectType(s string) ObjectType {
	if kind, ok := objectKinds[s]; ok {
		return ObjectType{Kind: kind}
	}
	return ObjectType{Kind: TypeOther, Other: s}
}

func (t ObjectType) String() string {
	if t.Kind == TypeOther {
		return t.Other
	}
	for name, kind := range objectKinds {
		if kind == t.Kind {
			return strings.TrimPrefix(name, "PipeWire:Interface:")
		}
	}
	return fmt.Sprintf("ObjectKind(%d)", int(t.Kind))
}

// Port is a single audio port on a node
type Port struct {
	ID        HostID
	Name      string
	Channel   string
	IsMonitor bool
}

// Ports indexes a node's ports by direction, then by host id
type Ports [2]map[HostID]Port

func (p *Ports) add(direction Direction, port Port) {
	if p[direction] == nil {
		p[direction] = make(map[HostID]Port)
	}
	p[direction][port.ID] = port
}

func (p *Ports) remove(id HostID) {
	delete(p[In], id)
	delete(p[Out], id)
}

// Device is a host device, the parent of device nodes
type Device struct {
	Nickname    string
	Description string
	Name        string
	Nodes       []HostID
}

// DeviceNode is a node backed by a device (sound card capture, playback)
type DeviceNode struct {
	ParentID    HostID
	Nickname    string
	Description string
	Name        string
	Ports       Ports
}

// Client is a process connected to the host
type Client struct {
	ModuleID        uint32
	Protocol        string
	ProcessID       uint32
	UserID          uint32
	GroupID         uint32
	Access          string
	ApplicationName string
	Nodes           []HostID
}

// ClientNode is a node owned by a client application
type ClientNode struct {
	ParentID        HostID
	ApplicationName string
	NodeName        string
	Ports           Ports
}

// ManagedNode is a node this daemon created, recognised by its name
type ManagedNode struct {
	Name        string
	Description string
	Ports       Ports
}

// Link is a port to port connection observed in the registry
type Link struct {
	InputNode  HostID
	InputPort  HostID
	OutputNode HostID
	OutputPort HostID
}

// Factory creates host objects, e.g. the adapter factory behind filter nodes
type Factory struct {
	ModuleID uint32
	Name     string
	Type     ObjectType
	Version  uint32
}

// Props is the string dictionary attached to a registry global
type Props map[string]string

func (p Props) str(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

func (p Props) uint(key string) (uint32, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return uint32(n), nil
}
