// Package pipeline defines the vocabulary shared by the extraction driver and
// the pipeline backends: topologies, buffers and bus messages.
package pipeline

import (
	"fmt"
	"maps"
	"time"
)

// Well-known stage names. Backends realize topologies by these names, which
// follow the GStreamer element naming so the same topology can be handed to
// either backend.
const (
	StageAppSrc   = "appsrc"
	StageFileSink = "filesink"

	StageH264Parse = "h264parse"
	StageH265Parse = "h265parse"
	StageAV1Parse  = "av1parse"
	StageVP9Parse  = "vp9parse"

	StageMP4Mux = "mp4mux"
	StageIVFMux = "avmux_ivf"
)

// Topology is the fixed set of stages needed to extract one codec's
// elementary stream into a container file. Topologies from the codec table
// are handed out as copies, so jobs never share one.
type Topology struct {
	Codec string // normalized codec tag, e.g. "h264"

	// Caps describes the injected byte stream.
	Caps string

	// Parser locates frame/NAL boundaries independently of message framing.
	Parser string

	// Decoder is the name of a decoder stage. It is empty when compressed
	// data goes straight to the muxer, which is always the case here.
	Decoder string

	Muxer string

	// MuxerProperties are passed to the muxer stage as-is.
	MuxerProperties map[string]any

	// Extension of the produced file, without the dot.
	Extension string
}

// Clone returns a copy of t that shares no mutable state with it.
func (t Topology) Clone() Topology {
	t.MuxerProperties = maps.Clone(t.MuxerProperties)
	return t
}

// DecoderRequired reports whether the topology contains a decoder stage.
func (t Topology) DecoderRequired() bool {
	return t.Decoder != ""
}

// Stages returns the stage names in link order.
func (t Topology) Stages() []string {
	stages := []string{StageAppSrc, t.Parser}
	if t.DecoderRequired() {
		stages = append(stages, t.Decoder)
	}
	return append(stages, t.Muxer, StageFileSink)
}

// String renders the topology as a launch line.
func (t Topology) String() string {
	s := ""
	for i, name := range t.Stages() {
		if i > 0 {
			s += " ! "
		}
		s += name
	}
	return s
}

// Buffer is one compressed frame handed to the head stage of a pipeline.
type Buffer struct {
	Data     []byte
	PTS      time.Duration // presentation timestamp, zero-based per output file
	Duration time.Duration // zero when unknown
	KeyFrame bool
}

// MessageType identifies a bus message.
type MessageType int

const (
	MessageEOS MessageType = iota
	MessageError
	MessageStateChanged
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageStateChanged:
		return "state-changed"
	default:
		return "unknown"
	}
}

// Message is an asynchronous notification posted by a running pipeline.
type Message struct {
	Type  MessageType
	Stage string // originating stage, empty for the pipeline itself
	Err   error  // set for MessageError
	State string // new state for MessageStateChanged
}

// String formats the message for logs.
func (m Message) String() string {
	switch m.Type {
	case MessageError:
		return fmt.Sprintf("error from %s: %v", m.Stage, m.Err)
	case MessageStateChanged:
		return fmt.Sprintf("%s changed state to %s", m.Stage, m.State)
	default:
		return m.Type.String()
	}
}
