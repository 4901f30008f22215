// Package frame decodes foxglove.CompressedVideo messages from their CDR
// wire form. All knowledge of the wire layout lives here.
package frame

import "github.com/user/mcapvideo/pkg/codec"

// VideoFrame is one decoded compressed video frame. Values are immutable
// once decoded and are consumed by a single reader.
type VideoFrame struct {
	// LogTime is the recording timestamp in nanoseconds. It is not part of
	// the message payload and is filled in by the caller.
	LogTime uint64

	// FrameTime is the message-embedded timestamp in nanoseconds, zero when
	// the producer did not set one.
	FrameTime uint64

	FrameID  string
	Format   string      // format tag as carried on the wire
	Codec    codec.Codec // normalized Format, Unknown when unsupported
	Data     []byte
	KeyFrame bool
}

// Header is a VideoFrame without its data, as read by DecodeHeader.
type Header struct {
	FrameTime uint64
	FrameID   string
	Format    string
	Codec     codec.Codec
	DataSize  int // declared length of the skipped data field
}
