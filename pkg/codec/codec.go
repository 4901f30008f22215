// Package codec maps codec tags to extraction topologies and holds the small
// amount of bitstream knowledge the extractor needs: key-frame detection,
// Annex B parameter sets, AV1 OBUs and VP9 frame headers.
package codec

import (
	"fmt"
	"strings"
)

// Codec is a normalized video codec tag.
type Codec string

const (
	H264    Codec = "h264"
	H265    Codec = "h265"
	VP9     Codec = "vp9"
	AV1     Codec = "av1"
	Unknown Codec = ""
)

// Supported lists every codec with a topology, in display order.
var Supported = []Codec{H264, H265, VP9, AV1}

var aliases = map[string]Codec{
	"h264":  H264,
	"h.264": H264,
	"avc":   H264,
	"avc1":  H264,
	"h265":  H265,
	"h.265": H265,
	"hevc":  H265,
	"hvc1":  H265,
	"vp9":   VP9,
	"vp09":  VP9,
	"av1":   AV1,
	"av01":  AV1,
}

// Parse normalizes a format tag as carried in a CompressedVideo message.
// It returns Unknown and false for tags outside the supported set.
func Parse(tag string) (Codec, bool) {
	c, ok := aliases[strings.ToLower(strings.TrimSpace(tag))]
	return c, ok
}

// String returns the display name of the codec.
func (c Codec) String() string {
	switch c {
	case H264:
		return "H.264"
	case H265:
		return "H.265"
	case VP9:
		return "VP9"
	case AV1:
		return "AV1"
	default:
		return "unknown"
	}
}

// UnsupportedCodecError is returned when a format tag has no topology.
type UnsupportedCodecError struct {
	Tag string
}

func (e *UnsupportedCodecError) Error() string {
	names := make([]string, len(Supported))
	for i, c := range Supported {
		names[i] = string(c)
	}
	return fmt.Sprintf("unsupported video format %q (supported: %s)", e.Tag, strings.Join(names, ", "))
}
