package registry

import (
	"errors"
	"fmt"
	"strconv"
)

// errUnusableDirection marks notify and control ports, which carry no audio
var errUnusableDirection = errors.New("unusable port direction")

func parseDevice(props Props) *Device {
	return &Device{
		Nickname:    props[keyDeviceNick],
		Description: props[keyDeviceDescription],
		Name:        props[keyDeviceName],
	}
}

func parseDeviceNode(props Props) (*DeviceNode, error) {
	parent, err := props.uint(keyDeviceID)
	if err != nil {
		return nil, err
	}

	return &DeviceNode{
		ParentID:    parent,
		Nickname:    props[keyNodeNick],
		Description: props[keyNodeDescription],
		Name:        props[keyNodeName],
	}, nil
}

func parseClientNode(props Props) (*ClientNode, error) {
	parent, err := props.uint(keyClientID)
	if err != nil {
		return nil, err
	}
	nodeName, err := props.str(keyNodeName)
	if err != nil {
		return nil, err
	}
	appName, err := props.str(keyAppName)
	if err != nil {
		return nil, err
	}

	return &ClientNode{
		ParentID:        parent,
		ApplicationName: appName,
		NodeName:        nodeName,
	}, nil
}

func parseClient(props Props) (*Client, error) {
	var (
		c   Client
		err error
	)

	if c.ModuleID, err = props.uint(keyModuleID); err != nil {
		return nil, err
	}
	if c.Protocol, err = props.str(keyProtocol); err != nil {
		return nil, err
	}
	if c.ProcessID, err = props.uint(keySecPID); err != nil {
		return nil, err
	}
	if c.UserID, err = props.uint(keySecUID); err != nil {
		return nil, err
	}
	if c.GroupID, err = props.uint(keySecGID); err != nil {
		return nil, err
	}
	if c.Access, err = props.str(keyAccess); err != nil {
		return nil, err
	}
	if c.ApplicationName, err = props.str(keyAppName); err != nil {
		return nil, err
	}

	return &c, nil
}

func parseFactory(props Props) (Factory, error) {
	moduleID, err := props.uint(keyModuleID)
	if err != nil {
		return Factory{}, err
	}
	name, err := props.str(keyFactoryName)
	if err != nil {
		return Factory{}, err
	}
	typeName, err := props.str(keyFactoryTypeName)
	if err != nil {
		return Factory{}, err
	}
	version, err := props.uint(keyFactoryVersion)
	if err != nil {
		return Factory{}, err
	}

	return Factory{
		ModuleID: moduleID,
		Name:     name,
		Type:     ParseObjectType(typeName),
		Version:  version,
	}, nil
}

func parseLink(props Props) (Link, error) {
	var (
		l   Link
		err error
	)

	if l.InputNode, err = props.uint(keyLinkInputNode); err != nil {
		return Link{}, err
	}
	if l.InputPort, err = props.uint(keyLinkInputPort); err != nil {
		return Link{}, err
	}
	if l.OutputNode, err = props.uint(keyLinkOutputNode); err != nil {
		return Link{}, err
	}
	if l.OutputPort, err = props.uint(keyLinkOutputPort); err != nil {
		return Link{}, err
	}

	return l, nil
}

// parsePort returns the owning node id, the direction and the port record.
// Only port.monitor may be absent; it defaults to false.
func parsePort(id HostID, props Props) (HostID, Direction, Port, error) {
	nodeID, err := props.uint(keyNodeID)
	if err != nil {
		return 0, 0, Port{}, err
	}
	if _, err := props.uint(keyPortID); err != nil {
		return 0, 0, Port{}, err
	}
	name, err := props.str(keyPortName)
	if err != nil {
		return 0, 0, Port{}, err
	}
	channel, err := props.str(keyAudioChannel)
	if err != nil {
		return 0, 0, Port{}, err
	}
	rawDirection, err := props.str(keyPortDirection)
	if err != nil {
		return 0, 0, Port{}, err
	}

	var direction Direction
	switch rawDirection {
	case "in":
		direction = In
	case "out":
		direction = Out
	default:
		return 0, 0, Port{}, fmt.Errorf("%w: %q", errUnusableDirection, rawDirection)
	}

	isMonitor, _ := strconv.ParseBool(props[keyPortMonitor])

	return nodeID, direction, Port{
		ID:        id,
		Name:      name,
		Channel:   channel,
		IsMonitor: isMonitor,
	}, nil
}
