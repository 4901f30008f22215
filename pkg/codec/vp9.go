package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

const (
	vp9FrameMarker = 2
	vp9SyncCode    = 0x498342
	vp9ColorSRGB   = 7
)

// ErrMalformedVP9 is returned for frames without a valid uncompressed header.
var ErrMalformedVP9 = errors.New("codec: malformed VP9 frame header")

// VP9FrameHeader holds the uncompressed header fields the extractor uses.
// Width and Height are only known for key frames.
type VP9FrameHeader struct {
	Profile           int
	ShowExistingFrame bool
	KeyFrame          bool
	Width             int
	Height            int
}

// ParseVP9FrameHeader parses the uncompressed header of a VP9 frame. For a
// superframe the header of the first frame is returned.
func ParseVP9FrameHeader(data []byte) (VP9FrameHeader, error) {
	var hdr VP9FrameHeader
	r := bitio.NewReader(bytes.NewReader(data))

	if r.TryReadBits(2) != vp9FrameMarker {
		return hdr, fmt.Errorf("%w: bad frame marker", ErrMalformedVP9)
	}
	low := int(r.TryReadBits(1))
	high := int(r.TryReadBits(1))
	hdr.Profile = high<<1 | low
	if hdr.Profile == 3 {
		r.TryReadBits(1)
	}
	hdr.ShowExistingFrame = r.TryReadBool()
	if hdr.ShowExistingFrame {
		return hdr, wrapVP9(r.TryError)
	}
	hdr.KeyFrame = r.TryReadBits(1) == 0
	r.TryReadBits(1) // show_frame
	r.TryReadBits(1) // error_resilient_mode
	if !hdr.KeyFrame {
		return hdr, wrapVP9(r.TryError)
	}

	if r.TryReadBits(24) != vp9SyncCode {
		if r.TryError != nil {
			return hdr, wrapVP9(r.TryError)
		}
		return hdr, fmt.Errorf("%w: bad sync code", ErrMalformedVP9)
	}
	if hdr.Profile >= 2 {
		r.TryReadBits(1) // ten_or_twelve_bit
	}
	colorSpace := r.TryReadBits(3)
	if colorSpace != vp9ColorSRGB {
		r.TryReadBits(1) // color_range
		if hdr.Profile == 1 || hdr.Profile == 3 {
			r.TryReadBits(3) // subsampling_x, subsampling_y, reserved_zero
		}
	} else if hdr.Profile == 1 || hdr.Profile == 3 {
		r.TryReadBits(1)
	}
	hdr.Width = int(r.TryReadBits(16)) + 1
	hdr.Height = int(r.TryReadBits(16)) + 1
	return hdr, wrapVP9(r.TryError)
}

func wrapVP9(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformedVP9, err)
}
