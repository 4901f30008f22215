package frame

import "encoding/binary"

// Encode serializes f as a CDR payload with an encapsulation header in the
// given byte order. LogTime, Codec and KeyFrame are not part of the wire
// form.
func Encode(f VideoFrame, order binary.ByteOrder) []byte {
	w := &writer{order: order}
	id := byte(encapsulationBE)
	if order == binary.LittleEndian {
		id = encapsulationLE
	}
	w.buf = append(w.buf, 0x00, id, 0x00, 0x00)
	w.origin = len(w.buf)

	w.uint32(uint32(f.FrameTime / 1_000_000_000))
	w.uint32(uint32(f.FrameTime % 1_000_000_000))
	w.string(f.FrameID)
	w.uint32(uint32(len(f.Data)))
	w.buf = append(w.buf, f.Data...)
	w.string(f.Format)
	return w.buf
}

type writer struct {
	buf    []byte
	origin int
	order  binary.ByteOrder
}

func (w *writer) uint32(v uint32) {
	for (len(w.buf)-w.origin)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
	var b [4]byte
	w.order.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) string(s string) {
	w.uint32(uint32(len(s) + 1))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}
