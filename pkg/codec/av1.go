package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

// AV1 OBU types.
const (
	OBUSequenceHeader    = 1
	OBUTemporalDelimiter = 2
	OBUFrameHeader       = 3
	OBUTileGroup         = 4
	OBUMetadata          = 5
	OBUFrame             = 6
	OBUPadding           = 15
)

const (
	av1KeyFrameType       = 0
	av1MaxLeb128Bytes     = 8
	av1MaxUVLCLeadingZero = 32

	// color_config values selecting the implicit 4:4:4 sRGB layout.
	av1PrimariesBT709   = 1
	av1TransferSRGB     = 13
	av1MatrixIdentity   = 0
	av1ColorUnspecified = 2
)

// ErrMalformedOBU is returned for OBU streams that cannot be walked.
var ErrMalformedOBU = errors.New("codec: malformed AV1 OBU")

// OBU is one open bitstream unit of a low-overhead AV1 stream.
type OBU struct {
	Type    int
	Raw     []byte // header, optional size field and payload
	Payload []byte
}

// SplitOBUs walks a low-overhead bitstream format temporal unit.
func SplitOBUs(data []byte) ([]OBU, error) {
	var obus []OBU
	offset := 0
	for offset < len(data) {
		start := offset
		header := data[offset]
		if header&0x80 != 0 {
			return nil, fmt.Errorf("%w: forbidden bit set at %d", ErrMalformedOBU, offset)
		}
		obuType := int(header>>3) & 0x0F
		hasExtension := header&0x04 != 0
		hasSize := header&0x02 != 0
		offset++
		if hasExtension {
			offset++
		}
		if offset > len(data) {
			return nil, fmt.Errorf("%w: truncated header at %d", ErrMalformedOBU, start)
		}

		size := len(data) - offset
		if hasSize {
			v, n, err := readLeb128(data[offset:])
			if err != nil {
				return nil, err
			}
			offset += n
			size = int(v)
		}
		end := offset + size
		if size < 0 || end > len(data) {
			return nil, fmt.Errorf("%w: size %d exceeds buffer at %d", ErrMalformedOBU, size, start)
		}
		obus = append(obus, OBU{Type: obuType, Raw: data[start:end], Payload: data[offset:end]})
		offset = end
	}
	return obus, nil
}

func readLeb128(data []byte) (uint64, int, error) {
	var value uint64
	for i := 0; i < av1MaxLeb128Bytes; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("%w: truncated leb128", ErrMalformedOBU)
		}
		b := data[i]
		value |= uint64(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: leb128 too long", ErrMalformedOBU)
}

// AV1SequenceHeader holds the sequence header fields needed for an av1C box
// and the sample entry dimensions.
type AV1SequenceHeader struct {
	Profile   byte
	Level     byte
	Tier      byte
	Width     int
	Height    int
	StillOnly bool

	// color_config
	BitDepth             int
	Monochrome           bool
	ChromaSubsamplingX   byte
	ChromaSubsamplingY   byte
	ChromaSamplePosition byte
}

// ParseAV1SequenceHeader parses the payload of a sequence header OBU through
// its color configuration.
func ParseAV1SequenceHeader(payload []byte) (AV1SequenceHeader, error) {
	var hdr AV1SequenceHeader
	r := bitio.NewReader(bytes.NewReader(payload))

	hdr.Profile = byte(r.TryReadBits(3))
	hdr.StillOnly = r.TryReadBool()
	reduced := r.TryReadBool()

	if reduced {
		hdr.Level = byte(r.TryReadBits(5))
	} else {
		decoderModelInfo := false
		bufferDelayLength := uint8(0)
		if r.TryReadBool() { // timing_info_present_flag
			r.TryReadBits(32) // num_units_in_display_tick
			r.TryReadBits(32) // time_scale
			if r.TryReadBool() {
				readUVLC(r)
			}
			decoderModelInfo = r.TryReadBool()
			if decoderModelInfo {
				bufferDelayLength = uint8(r.TryReadBits(5)) + 1
				r.TryReadBits(32) // num_units_in_decoding_tick
				r.TryReadBits(5)  // buffer_removal_time_length_minus_1
				r.TryReadBits(5)  // frame_presentation_time_length_minus_1
			}
		}
		initialDisplayDelay := r.TryReadBool()
		count := int(r.TryReadBits(5)) + 1
		for i := 0; i < count; i++ {
			r.TryReadBits(12) // operating_point_idc
			level := byte(r.TryReadBits(5))
			tier := byte(0)
			if level > 7 {
				tier = byte(r.TryReadBits(1))
			}
			if i == 0 {
				hdr.Level, hdr.Tier = level, tier
			}
			if decoderModelInfo && r.TryReadBool() {
				r.TryReadBits(bufferDelayLength) // decoder_buffer_delay
				r.TryReadBits(bufferDelayLength) // encoder_buffer_delay
				r.TryReadBits(1)                 // low_delay_mode_flag
			}
			if initialDisplayDelay && r.TryReadBool() {
				r.TryReadBits(4)
			}
		}
	}

	widthBits := uint8(r.TryReadBits(4)) + 1
	heightBits := uint8(r.TryReadBits(4)) + 1
	hdr.Width = int(r.TryReadBits(widthBits)) + 1
	hdr.Height = int(r.TryReadBits(heightBits)) + 1

	if !reduced && r.TryReadBool() { // frame_id_numbers_present_flag
		r.TryReadBits(4) // delta_frame_id_length_minus_2
		r.TryReadBits(3) // additional_frame_id_length_minus_1
	}
	r.TryReadBits(3) // use_128x128_superblock, enable_filter_intra, enable_intra_edge_filter
	if !reduced {
		r.TryReadBits(4) // enable_interintra_compound, enable_masked_compound, enable_warped_motion, enable_dual_filter
		orderHint := r.TryReadBool()
		if orderHint {
			r.TryReadBits(2) // enable_jnt_comp, enable_ref_frame_mvs
		}
		forceScreenContent := uint64(1)
		if !r.TryReadBool() { // seq_choose_screen_content_tools
			forceScreenContent = r.TryReadBits(1)
		}
		if forceScreenContent > 0 && !r.TryReadBool() { // seq_choose_integer_mv
			r.TryReadBits(1) // seq_force_integer_mv
		}
		if orderHint {
			r.TryReadBits(3) // order_hint_bits_minus_1
		}
	}
	r.TryReadBits(3) // enable_superres, enable_cdef, enable_restoration
	readAV1ColorConfig(r, &hdr)
	r.TryReadBits(1) // film_grain_params_present

	if r.TryError != nil {
		return AV1SequenceHeader{}, fmt.Errorf("%w: sequence header: %v", ErrMalformedOBU, r.TryError)
	}
	return hdr, nil
}

func readAV1ColorConfig(r *bitio.Reader, hdr *AV1SequenceHeader) {
	hdr.BitDepth = 8
	if r.TryReadBool() { // high_bitdepth
		hdr.BitDepth = 10
		if hdr.Profile == 2 && r.TryReadBool() { // twelve_bit
			hdr.BitDepth = 12
		}
	}
	if hdr.Profile != 1 {
		hdr.Monochrome = r.TryReadBool()
	}

	primaries, transfer, matrix := uint64(av1ColorUnspecified), uint64(av1ColorUnspecified), uint64(av1ColorUnspecified)
	if r.TryReadBool() { // color_description_present_flag
		primaries = r.TryReadBits(8)
		transfer = r.TryReadBits(8)
		matrix = r.TryReadBits(8)
	}

	switch {
	case hdr.Monochrome:
		r.TryReadBits(1) // color_range
		hdr.ChromaSubsamplingX, hdr.ChromaSubsamplingY = 1, 1
		return
	case primaries == av1PrimariesBT709 && transfer == av1TransferSRGB && matrix == av1MatrixIdentity:
		hdr.ChromaSubsamplingX, hdr.ChromaSubsamplingY = 0, 0
	default:
		r.TryReadBits(1) // color_range
		switch {
		case hdr.Profile == 0:
			hdr.ChromaSubsamplingX, hdr.ChromaSubsamplingY = 1, 1
		case hdr.Profile == 1:
			hdr.ChromaSubsamplingX, hdr.ChromaSubsamplingY = 0, 0
		case hdr.BitDepth == 12:
			hdr.ChromaSubsamplingX = byte(r.TryReadBits(1))
			if hdr.ChromaSubsamplingX == 1 {
				hdr.ChromaSubsamplingY = byte(r.TryReadBits(1))
			}
		default:
			hdr.ChromaSubsamplingX, hdr.ChromaSubsamplingY = 1, 0
		}
		if hdr.ChromaSubsamplingX == 1 && hdr.ChromaSubsamplingY == 1 {
			hdr.ChromaSamplePosition = byte(r.TryReadBits(2))
		}
	}
	r.TryReadBits(1) // separate_uv_delta_q
}

func readUVLC(r *bitio.Reader) uint64 {
	leadingZeros := uint8(0)
	for !r.TryReadBool() {
		if r.TryError != nil {
			return 0
		}
		leadingZeros++
		if leadingZeros >= av1MaxUVLCLeadingZero {
			return 1<<32 - 1
		}
	}
	if leadingZeros == 0 {
		return 0
	}
	return r.TryReadBits(leadingZeros) + (1 << leadingZeros) - 1
}

// av1FrameIsKey inspects the start of an uncompressed frame header. The
// second result is false when the header cannot be read.
func av1FrameIsKey(payload []byte) (bool, bool) {
	if len(payload) == 0 {
		return false, false
	}
	r := bitio.NewReader(bytes.NewReader(payload))
	showExisting := r.TryReadBool()
	if showExisting {
		return false, r.TryError == nil
	}
	frameType := r.TryReadBits(2)
	if r.TryError != nil {
		return false, false
	}
	return frameType == av1KeyFrameType, true
}
