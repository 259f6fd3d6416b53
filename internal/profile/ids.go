package profile

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ID is the stable identifier of every node the profile defines. IDs are
// time-ordered (UUID version 7), so their text form sorts by creation time.
type ID uuid.UUID

// Nil is the zero ID
var Nil ID

// NewID returns a fresh time-ordered ID
func NewID() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		return ID(uuid.New())
	}
	return ID(id)
}

// ParseID parses the canonical text form of an ID
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return Nil, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return ID(id), nil
}

// MustParseID is ParseID for literals in tests and defaults
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether id is the zero ID
func (id ID) IsNil() bool {
	return id == Nil
}

// Compare orders IDs by their byte (and therefore text) representation
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *ID) UnmarshalText(data []byte) error {
	parsed, err := ParseID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeKind classifies a profile node
type NodeKind int

const (
	PhysicalSource NodeKind = iota
	VirtualSource
	PhysicalTarget
	VirtualTarget
)

var nodeKindNames = map[NodeKind]string{
	PhysicalSource: "PhysicalSource",
	VirtualSource:  "VirtualSource",
	PhysicalTarget: "PhysicalTarget",
	VirtualTarget:  "VirtualTarget",
}

// IsSource reports whether nodes of this kind feed audio into the matrix
func (k NodeKind) IsSource() bool {
	return k == PhysicalSource || k == VirtualSource
}

// IsTarget reports whether nodes of this kind receive audio from the matrix
func (k NodeKind) IsTarget() bool {
	return k == PhysicalTarget || k == VirtualTarget
}

// IsPhysical reports whether the node is bound to a host device
func (k NodeKind) IsPhysical() bool {
	return k == PhysicalSource || k == PhysicalTarget
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

func (k NodeKind) MarshalText() ([]byte, error) {
	name, ok := nodeKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown node kind %d", int(k))
	}
	return []byte(name), nil
}

func (k *NodeKind) UnmarshalText(data []byte) error {
	for kind, name := range nodeKindNames {
		if strings.EqualFold(name, string(data)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown node kind %q", string(data))
}

// Mix selects which of a source's two filter nodes feeds a target
type Mix int

const (
	MixA Mix = iota
	MixB
)

// Mixes lists both mixes in index order
var Mixes = [2]Mix{MixA, MixB}

func (m Mix) String() string {
	if m == MixB {
		return "B"
	}
	return "A"
}

// Other returns the opposite mix
func (m Mix) Other() Mix {
	if m == MixA {
		return MixB
	}
	return MixA
}

func (m Mix) MarshalText() ([]byte, error) {
	if m != MixA && m != MixB {
		return nil, fmt.Errorf("unknown mix %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mix) UnmarshalText(data []byte) error {
	switch strings.ToUpper(string(data)) {
	case "A":
		*m = MixA
	case "B":
		*m = MixB
	default:
		return fmt.Errorf("unknown mix %q", string(data))
	}
	return nil
}

// MuteTarget names one of a source's two independent mute dimensions
type MuteTarget int

const (
	TargetA MuteTarget = iota
	TargetB
)

func (t MuteTarget) String() string {
	if t == TargetB {
		return "TargetB"
	}
	return "TargetA"
}

func (t MuteTarget) MarshalText() ([]byte, error) {
	if t != TargetA && t != TargetB {
		return nil, fmt.Errorf("unknown mute target %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *MuteTarget) UnmarshalText(data []byte) error {
	switch strings.ToLower(string(data)) {
	case "targeta", "a":
		*t = TargetA
	case "targetb", "b":
		*t = TargetB
	default:
		return fmt.Errorf("unknown mute target %q", string(data))
	}
	return nil
}
