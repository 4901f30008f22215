package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/user/mcapvideo/pkg/codec"
)

// Encapsulation identifiers of the 4-byte CDR header.
const (
	encapsulationBE = 0x00
	encapsulationLE = 0x01
	headerSize      = 4
)

// Decode decodes a CDR encoded CompressedVideo payload.
//
// The wire layout is
//
//	timestamp.sec  uint32
//	timestamp.nsec uint32
//	frame_id       string
//	data           sequence<uint8>
//	format         string
//
// When the format tag is not supported the fully decoded frame is returned
// together with an error matching ErrUnknownFormat, so callers that only
// count frames can still use it.
func Decode(raw []byte) (VideoFrame, error) {
	return decodeWithFallback(raw, decodeBody)
}

// DecodeHeader decodes every field of a CompressedVideo payload except the
// frame data, which is skipped by its declared length. Nothing of the data is
// copied or inspected, so Header.Codec is set but key frames are not
// detected. Errors match those of Decode.
func DecodeHeader(raw []byte) (Header, error) {
	return decodeWithFallback(raw, decodeHeaderBody)
}

// decodeWithFallback honours the encapsulation header when present and
// falls back to bare little-endian CDR when that fails.
func decodeWithFallback[T any](raw []byte, body func(raw []byte, origin int, order binary.ByteOrder) (T, error)) (T, error) {
	if !hasEncapsulationHeader(raw) {
		return body(raw, 0, binary.LittleEndian)
	}
	order := binary.ByteOrder(binary.BigEndian)
	if raw[1] == encapsulationLE {
		order = binary.LittleEndian
	}
	v, err := body(raw, headerSize, order)
	if err == nil || errors.Is(err, ErrUnknownFormat) {
		return v, err
	}
	// Some producers omit the header; retry as bare little-endian CDR.
	if v, ferr := body(raw, 0, binary.LittleEndian); ferr == nil {
		return v, nil
	}
	var zero T
	return zero, err
}

func hasEncapsulationHeader(raw []byte) bool {
	return len(raw) >= headerSize &&
		raw[0] == 0x00 &&
		(raw[1] == encapsulationBE || raw[1] == encapsulationLE)
}

// fields is the raw field set of one message. The data field is kept as a
// position in the message buffer.
type fields struct {
	sec, nsec uint32
	frameID   string
	dataOff   int
	dataLen   int
	format    string
}

func readFields(raw []byte, origin int, order binary.ByteOrder) (fields, error) {
	r := &reader{buf: raw, origin: origin, pos: origin, order: order}

	var (
		fs  fields
		err error
	)
	if fs.sec, err = r.uint32("timestamp.sec"); err != nil {
		return fields{}, err
	}
	if fs.nsec, err = r.uint32("timestamp.nsec"); err != nil {
		return fields{}, err
	}
	if fs.frameID, err = r.string("frame_id"); err != nil {
		return fields{}, err
	}
	if fs.dataOff, fs.dataLen, err = r.sequence("data"); err != nil {
		return fields{}, err
	}
	if fs.format, err = r.string("format"); err != nil {
		return fields{}, err
	}
	return fs, nil
}

func (fs fields) frameTime() uint64 {
	return uint64(fs.sec)*1_000_000_000 + uint64(fs.nsec)
}

func unknownFormat(format string) error {
	return &DecodeError{Kind: ErrUnknownFormat, Field: "format", Detail: fmt.Sprintf("%q", format)}
}

func decodeBody(raw []byte, origin int, order binary.ByteOrder) (VideoFrame, error) {
	fs, err := readFields(raw, origin, order)
	if err != nil {
		return VideoFrame{}, err
	}

	f := VideoFrame{
		FrameTime: fs.frameTime(),
		FrameID:   fs.frameID,
		Format:    fs.format,
	}
	// Data must not alias the message buffer.
	if fs.dataLen > 0 {
		f.Data = make([]byte, fs.dataLen)
		copy(f.Data, raw[fs.dataOff:])
	}
	c, ok := codec.Parse(fs.format)
	if !ok {
		return f, unknownFormat(fs.format)
	}
	f.Codec = c
	f.KeyFrame = codec.IsKeyFrame(c, f.Data)
	return f, nil
}

func decodeHeaderBody(raw []byte, origin int, order binary.ByteOrder) (Header, error) {
	fs, err := readFields(raw, origin, order)
	if err != nil {
		return Header{}, err
	}

	h := Header{
		FrameTime: fs.frameTime(),
		FrameID:   fs.frameID,
		Format:    fs.format,
		DataSize:  fs.dataLen,
	}
	c, ok := codec.Parse(fs.format)
	if !ok {
		return h, unknownFormat(fs.format)
	}
	h.Codec = c
	return h, nil
}

// reader reads CDR primitives. Scalars are aligned to their natural width
// relative to origin, the first byte after the encapsulation header.
type reader struct {
	buf    []byte
	origin int
	pos    int
	order  binary.ByteOrder
}

func (r *reader) align(width int) {
	if rem := (r.pos - r.origin) % width; rem != 0 {
		r.pos += width - rem
	}
}

func (r *reader) remaining() int {
	if r.pos >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.pos
}

func (r *reader) uint32(field string) (uint32, error) {
	r.align(4)
	if r.remaining() < 4 {
		return 0, &DecodeError{Kind: ErrTruncated, Field: field, Offset: r.pos}
	}
	v := r.order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// string reads a length-prefixed string. The length includes the NUL
// terminator, which is dropped.
func (r *reader) string(field string) (string, error) {
	n, err := r.uint32(field + ".length")
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()) {
		return "", &DecodeError{
			Kind:   ErrTruncated,
			Field:  field,
			Offset: r.pos,
			Detail: fmt.Sprintf("declared %d bytes, %d available", n, r.remaining()),
		}
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return strings.TrimSuffix(s, "\x00"), nil
}

// sequence skips a length-prefixed byte sequence and returns its position.
func (r *reader) sequence(field string) (off, n int, err error) {
	length, err := r.uint32(field + ".length")
	if err != nil {
		return 0, 0, err
	}
	if uint64(length) > uint64(r.remaining()) {
		return 0, 0, &DecodeError{
			Kind:   ErrLengthMismatch,
			Field:  field,
			Offset: r.pos,
			Detail: fmt.Sprintf("declared %d bytes, %d available", length, r.remaining()),
		}
	}
	off = r.pos
	r.pos += int(length)
	return off, int(length), nil
}
