package gopipeline

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
	ivfFrameCountOff   = 24
)

// ivfMux writes an IVF file with a 1/90000 time base, timestamps relative to
// the first written frame. The frame count in the
// file header is patched on Finish when the sink allows it.
type ivfMux struct {
	w      *fileSink
	logger ports.Logger

	config  *streamConfig
	base    time.Duration
	frames  uint32
	skipped int
}

func newIVFMux(w *fileSink, props map[string]any, frameDuration time.Duration, logger ports.Logger) (muxer, error) {
	if len(props) > 0 {
		return nil, fmt.Errorf("unknown properties %v", props)
	}
	return &ivfMux{w: w, logger: logger}, nil
}

func (m *ivfMux) Name() string { return pipeline.StageIVFMux }

func (m *ivfMux) WriteUnit(au accessUnit) error {
	if m.config == nil {
		if au.Config == nil {
			m.skipped++
			if m.skipped == 1 {
				m.logger.Warn("Skipping frames before the first key frame")
			}
			return nil
		}
		if err := m.writeHeader(au.Config); err != nil {
			return err
		}
		m.base = au.PTS
	}

	var hdr [ivfFrameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(au.Data)))
	binary.LittleEndian.PutUint64(hdr[4:], uint64(au.PTS-m.base)*videoTimescale/uint64(time.Second))
	if _, err := m.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := m.w.Write(au.Data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	m.frames++
	return nil
}

func (m *ivfMux) writeHeader(cfg *streamConfig) error {
	fourcc, err := ivfFourCC(cfg.Codec)
	if err != nil {
		return err
	}
	m.config = cfg

	var hdr [ivfHeaderSize]byte
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:], 0)
	binary.LittleEndian.PutUint16(hdr[6:], ivfHeaderSize)
	copy(hdr[8:12], fourcc)
	binary.LittleEndian.PutUint16(hdr[12:], uint16(cfg.Width))
	binary.LittleEndian.PutUint16(hdr[14:], uint16(cfg.Height))
	binary.LittleEndian.PutUint32(hdr[16:], videoTimescale)
	binary.LittleEndian.PutUint32(hdr[20:], 1)
	if _, err := m.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write IVF header: %w", err)
	}
	return nil
}

func ivfFourCC(c codec.Codec) (string, error) {
	switch c {
	case codec.VP9:
		return "VP90", nil
	case codec.AV1:
		return "AV01", nil
	default:
		return "", fmt.Errorf("codec %s cannot be muxed to IVF", c)
	}
}

func (m *ivfMux) Finish() error {
	if m.config == nil {
		return errNoConfig
	}
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], m.frames)
	patched, err := m.w.patch(ivfFrameCountOff, count[:])
	if err != nil {
		return fmt.Errorf("patch frame count: %w", err)
	}
	if !patched {
		m.logger.Debug("Output is not seekable, IVF frame count left at zero")
	}
	if m.skipped > 0 {
		m.logger.Warn("Skipped %d frames before the first key frame", m.skipped)
	}
	return nil
}
