package pipewire

import (
	"strconv"
	"strings"
)

// Media classes used for daemon nodes
const (
	// MediaClassDuplex nodes have plain inputs and outputs, which is what a
	// filter sitting between two other nodes needs
	MediaClassDuplex = "Audio/Duplex"
	MediaClassSink   = "Audio/Sink"
)

// NodeSpec describes a node to create through the adapter factory
type NodeSpec struct {
	Name        string
	Description string
	MediaClass  string
	Positions   []string
}

// StereoPositions is the channel layout of every daemon node
var StereoPositions = []string{"FL", "FR"}

// Props renders the node as the SPA-JSON object pw-cli create-node takes
func (s NodeSpec) Props() string {
	positions := s.Positions
	if len(positions) == 0 {
		positions = StereoPositions
	}
	class := s.MediaClass
	if class == "" {
		class = MediaClassDuplex
	}

	var b strings.Builder
	b.WriteString("{ factory.name=support.null-audio-sink")
	b.WriteString(" node.name=" + strconv.Quote(s.Name))
	if s.Description != "" {
		b.WriteString(" node.description=" + strconv.Quote(s.Description))
	}
	b.WriteString(" media.class=" + class)
	b.WriteString(" audio.position=[ " + strings.Join(positions, " ") + " ]")
	b.WriteString(" monitor.channel-volumes=true")
	b.WriteString(" object.linger=true }")
	return b.String()
}

// ChannelVolume maps a 0-100 volume onto the linear gain PipeWire expects,
// using the cubic curve desktop mixers show
func ChannelVolume(volume uint8) float64 {
	if volume > 100 {
		volume = 100
	}
	v := float64(volume) / 100
	return v * v * v
}

// volumeProps renders a Props param setting every channel to volume
func volumeProps(volume uint8, channels int) string {
	if channels <= 0 {
		channels = len(StereoPositions)
	}
	gain := strconv.FormatFloat(ChannelVolume(volume), 'f', 6, 64)
	values := make([]string, channels)
	for i := range values {
		values[i] = gain
	}
	return "{ channelVolumes: [ " + strings.Join(values, ", ") + " ] }"
}
