package gopipeline

import (
	"time"

	"github.com/user/mcapvideo/pkg/codec"
)

// accessUnit is one parsed frame in the sample format of its container:
// length-prefixed NAL units for H.264/H.265, OBUs without temporal
// delimiters for AV1 and the raw frame for VP9.
type accessUnit struct {
	PTS      time.Duration
	KeyFrame bool
	Data     []byte

	// Config is set on the first unit that carries decoder configuration.
	Config *streamConfig
}

// streamConfig is the decoder configuration discovered by a parser.
type streamConfig struct {
	Codec  codec.Codec
	Width  int
	Height int

	VPS [][]byte
	SPS [][]byte
	PPS [][]byte

	AV1          codec.AV1SequenceHeader
	AV1ConfigOBU []byte

	VP9Profile int
}
