package gopipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/av1"
	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

// videoTimescale is the track timescale of written MP4 files.
const videoTimescale = 90000

// errNoConfig is returned when a stream ends before any decoder
// configuration was seen.
var errNoConfig = errors.New("no decoder configuration in stream")

// muxer packages access units into a container written to w.
type muxer interface {
	Name() string
	WriteUnit(au accessUnit) error
	Finish() error
}

type muxerFactory func(w *fileSink, props map[string]any, frameDuration time.Duration, logger ports.Logger) (muxer, error)

var muxers = map[string]muxerFactory{
	pipeline.StageMP4Mux: newMP4Mux,
	pipeline.StageIVFMux: newIVFMux,
}

// mp4Mux writes a fragmented MP4 file: ftyp and moov first, then one
// moof/mdat pair per GOP. Sample durations come from the next unit's PTS,
// so one unit is held back until its successor arrives. Decode times are
// relative to the first muxed unit.
type mp4Mux struct {
	w             *fileSink
	logger        ports.Logger
	frameDuration uint32

	config  *streamConfig
	base    time.Duration
	pending *accessUnit
	lastDur uint32
	frag    *mp4.Fragment
	seq     uint32
	samples int
	skipped int
}

func newMP4Mux(w *fileSink, props map[string]any, frameDuration time.Duration, logger ports.Logger) (muxer, error) {
	for key, value := range props {
		switch key {
		case "faststart":
			// Fragmented output always starts with moov.
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("property faststart: expected bool, got %T", value)
			}
		default:
			return nil, fmt.Errorf("unknown property %q", key)
		}
	}
	return &mp4Mux{
		w:             w,
		logger:        logger,
		frameDuration: ticks(frameDuration),
	}, nil
}

func (m *mp4Mux) Name() string { return pipeline.StageMP4Mux }

func ticks(d time.Duration) uint32 {
	t := uint64(d) * videoTimescale / uint64(time.Second)
	if t == 0 {
		return 1
	}
	return uint32(t)
}

func (m *mp4Mux) WriteUnit(au accessUnit) error {
	if m.config == nil {
		if au.Config == nil {
			m.skipped++
			if m.skipped == 1 {
				m.logger.Warn("Skipping units before the first decoder configuration")
			}
			return nil
		}
		if err := m.writeInit(au.Config); err != nil {
			return err
		}
		m.base = au.PTS
	}

	if m.pending != nil {
		dur := uint32(1)
		if au.PTS > m.pending.PTS {
			dur = ticks(au.PTS - m.pending.PTS)
		}
		if err := m.addSample(m.pending, dur); err != nil {
			return err
		}
	}
	m.pending = &au
	return nil
}

func (m *mp4Mux) writeInit(cfg *streamConfig) error {
	m.config = cfg
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(videoTimescale, "video", "en")
	trak := init.Moov.Trak

	var (
		entry  *mp4.VisualSampleEntryBox
		brands []string
	)
	width, height := uint16(cfg.Width), uint16(cfg.Height)
	switch cfg.Codec {
	case codec.H264:
		avcC, err := mp4.CreateAvcC(cfg.SPS, cfg.PPS, true)
		if err != nil {
			return fmt.Errorf("create avcC: %w", err)
		}
		entry = mp4.CreateVisualSampleEntryBox("avc1", width, height, avcC)
		brands = []string{"isom", "iso6", "avc1", "mp41"}
	case codec.H265:
		hvcC, err := mp4.CreateHvcC(cfg.VPS, cfg.SPS, cfg.PPS, true, true, true, true)
		if err != nil {
			return fmt.Errorf("create hvcC: %w", err)
		}
		entry = mp4.CreateVisualSampleEntryBox("hvc1", width, height, hvcC)
		brands = []string{"isom", "iso6", "hvc1", "mp41"}
	case codec.AV1:
		seq := cfg.AV1
		av1C := &mp4.Av1CBox{
			CodecConfRec: av1.CodecConfRec{
				Version:              1,
				SeqProfile:           seq.Profile,
				SeqLevelIdx0:         seq.Level,
				SeqTier0:             seq.Tier,
				HighBitdepth:         boolByte(seq.BitDepth > 8),
				TwelveBit:            boolByte(seq.BitDepth == 12),
				MonoChrome:           boolByte(seq.Monochrome),
				ChromaSubsamplingX:   seq.ChromaSubsamplingX,
				ChromaSubsamplingY:   seq.ChromaSubsamplingY,
				ChromaSamplePosition: seq.ChromaSamplePosition,
				ConfigOBUs:           cfg.AV1ConfigOBU,
			},
		}
		entry = mp4.CreateVisualSampleEntryBox("av01", width, height, av1C)
		brands = []string{"isom", "iso6", "av01", "mp41"}
	default:
		return fmt.Errorf("codec %s cannot be muxed to MP4", cfg.Codec)
	}
	trak.Mdia.Minf.Stbl.Stsd.AddChild(entry)
	trak.Tkhd.Width = mp4.Fixed32(uint32(cfg.Width) << 16)
	trak.Tkhd.Height = mp4.Fixed32(uint32(cfg.Height) << 16)

	ftyp := mp4.NewFtyp("isom", 0x200, brands)
	if err := ftyp.Encode(m.w); err != nil {
		return fmt.Errorf("encode ftyp: %w", err)
	}
	if err := init.Moov.Encode(m.w); err != nil {
		return fmt.Errorf("encode moov: %w", err)
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (m *mp4Mux) addSample(au *accessUnit, dur uint32) error {
	if au.KeyFrame || m.frag == nil {
		if err := m.flushFragment(); err != nil {
			return err
		}
		m.seq++
		frag, err := mp4.CreateFragment(m.seq, 1)
		if err != nil {
			return fmt.Errorf("create fragment: %w", err)
		}
		m.frag = frag
	}

	flags := mp4.NonSyncSampleFlags
	if au.KeyFrame {
		flags = mp4.SyncSampleFlags
	}
	m.frag.AddFullSample(mp4.FullSample{
		Sample: mp4.Sample{
			Flags: flags,
			Size:  uint32(len(au.Data)),
			Dur:   dur,
		},
		DecodeTime: uint64(au.PTS-m.base) * videoTimescale / uint64(time.Second),
		Data:       au.Data,
	})
	m.lastDur = dur
	m.samples++
	return nil
}

func (m *mp4Mux) flushFragment() error {
	if m.frag == nil {
		return nil
	}
	if err := m.frag.Encode(m.w); err != nil {
		return fmt.Errorf("encode fragment %d: %w", m.seq, err)
	}
	m.frag = nil
	return nil
}

func (m *mp4Mux) Finish() error {
	if m.config == nil {
		return errNoConfig
	}
	if m.pending != nil {
		dur := m.lastDur
		if dur == 0 {
			dur = m.frameDuration
		}
		if err := m.addSample(m.pending, dur); err != nil {
			return err
		}
		m.pending = nil
	}
	if err := m.flushFragment(); err != nil {
		return err
	}
	if m.skipped > 0 {
		m.logger.Warn("Skipped %d units before the first decoder configuration", m.skipped)
	}
	m.logger.Debug("Wrote %d samples in %d fragments", m.samples, m.seq)
	return nil
}
