package gopipeline

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

// parser locates frame boundaries in injected buffers and converts them to
// access units. A parser may return no unit for a buffer it has to skip.
type parser interface {
	Name() string
	Parse(buf pipeline.Buffer) ([]accessUnit, error)
}

type parserFactory func(logger ports.Logger) parser

var parsers = map[string]parserFactory{
	pipeline.StageH264Parse: func(l ports.Logger) parser { return &h264Parser{logger: l} },
	pipeline.StageH265Parse: func(l ports.Logger) parser { return &h265Parser{logger: l} },
	pipeline.StageAV1Parse:  func(l ports.Logger) parser { return &av1Parser{logger: l} },
	pipeline.StageVP9Parse:  func(l ports.Logger) parser { return &vp9Parser{logger: l} },
}

// toLengthPrefixed converts NAL units to the 4-byte length-prefixed sample
// format, leaving out the types keep rejects.
func toLengthPrefixed(nalus [][]byte, keep func(nalu []byte) bool) []byte {
	size := 0
	for _, nalu := range nalus {
		if keep(nalu) {
			size += 4 + len(nalu)
		}
	}
	out := make([]byte, 0, size)
	for _, nalu := range nalus {
		if !keep(nalu) {
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(nalu)))
		out = append(out, nalu...)
	}
	return out
}

func equalSets(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func cloneSets(sets [][]byte) [][]byte {
	out := make([][]byte, len(sets))
	for i, s := range sets {
		out[i] = bytes.Clone(s)
	}
	return out
}

// h264Parser splits Annex B access units and captures SPS/PPS.
type h264Parser struct {
	logger ports.Logger
	config *streamConfig
	warned bool
}

func (p *h264Parser) Name() string { return pipeline.StageH264Parse }

func (p *h264Parser) Parse(buf pipeline.Buffer) ([]accessUnit, error) {
	nalus := codec.SplitAnnexB(buf.Data)
	if len(nalus) == 0 {
		p.logger.Warn("Skipping buffer at %s without Annex B start code", buf.PTS)
		return nil, nil
	}

	au := accessUnit{PTS: buf.PTS, KeyFrame: buf.KeyFrame}
	spss, ppss := codec.H264ParameterSets(nalus)
	if len(spss) > 0 && len(ppss) > 0 {
		switch {
		case p.config == nil:
			sps, err := avc.ParseSPSNALUnit(spss[0], false)
			if err != nil {
				return nil, fmt.Errorf("parse SPS: %w", err)
			}
			p.config = &streamConfig{
				Codec:  codec.H264,
				Width:  int(sps.Width),
				Height: int(sps.Height),
				SPS:    cloneSets(spss),
				PPS:    cloneSets(ppss),
			}
			au.Config = p.config
			p.logger.Debug("H.264 stream %dx%d", p.config.Width, p.config.Height)
		case !p.warned && (!equalSets(spss, p.config.SPS) || !equalSets(ppss, p.config.PPS)):
			p.warned = true
			p.logger.Warn("H.264 parameter sets changed mid-stream, keeping the first ones")
		}
	}

	au.Data = toLengthPrefixed(nalus, func(nalu []byte) bool {
		if len(nalu) == 0 {
			return false
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS, avc.NALU_PPS, avc.NALU_AUD:
			return false
		}
		return true
	})
	if len(au.Data) == 0 {
		return nil, nil
	}
	return []accessUnit{au}, nil
}

// h265Parser splits Annex B access units and captures VPS/SPS/PPS.
type h265Parser struct {
	logger ports.Logger
	config *streamConfig
	warned bool
}

func (p *h265Parser) Name() string { return pipeline.StageH265Parse }

func (p *h265Parser) Parse(buf pipeline.Buffer) ([]accessUnit, error) {
	nalus := codec.SplitAnnexB(buf.Data)
	if len(nalus) == 0 {
		p.logger.Warn("Skipping buffer at %s without Annex B start code", buf.PTS)
		return nil, nil
	}

	au := accessUnit{PTS: buf.PTS, KeyFrame: buf.KeyFrame}
	vpss, spss, ppss := codec.H265ParameterSets(nalus)
	if len(vpss) > 0 && len(spss) > 0 && len(ppss) > 0 {
		switch {
		case p.config == nil:
			p.config = &streamConfig{
				Codec: codec.H265,
				VPS:   cloneSets(vpss),
				SPS:   cloneSets(spss),
				PPS:   cloneSets(ppss),
			}
			if sps, err := hevc.ParseSPSNALUnit(spss[0]); err == nil {
				w, h := sps.ImageSize()
				p.config.Width, p.config.Height = int(w), int(h)
			} else {
				p.logger.Warn("Could not read H.265 dimensions: %s", err)
			}
			au.Config = p.config
		case !p.warned && !equalSets(spss, p.config.SPS):
			p.warned = true
			p.logger.Warn("H.265 parameter sets changed mid-stream, keeping the first ones")
		}
	}

	au.Data = toLengthPrefixed(nalus, func(nalu []byte) bool {
		if len(nalu) < 2 {
			return false
		}
		switch hevc.GetNaluType(nalu[0]) {
		case hevc.NALU_VPS, hevc.NALU_SPS, hevc.NALU_PPS, hevc.NALU_AUD:
			return false
		}
		return true
	})
	if len(au.Data) == 0 {
		return nil, nil
	}
	return []accessUnit{au}, nil
}

// av1Parser walks temporal units, drops temporal delimiters and padding and
// captures the first sequence header.
type av1Parser struct {
	logger ports.Logger
	config *streamConfig
}

func (p *av1Parser) Name() string { return pipeline.StageAV1Parse }

func (p *av1Parser) Parse(buf pipeline.Buffer) ([]accessUnit, error) {
	obus, err := codec.SplitOBUs(buf.Data)
	if err != nil {
		return nil, err
	}

	au := accessUnit{PTS: buf.PTS, KeyFrame: buf.KeyFrame}
	var data []byte
	for _, obu := range obus {
		switch obu.Type {
		case codec.OBUTemporalDelimiter, codec.OBUPadding:
			continue
		case codec.OBUSequenceHeader:
			if p.config == nil {
				hdr, err := codec.ParseAV1SequenceHeader(obu.Payload)
				if err != nil {
					return nil, err
				}
				p.config = &streamConfig{
					Codec:        codec.AV1,
					Width:        hdr.Width,
					Height:       hdr.Height,
					AV1:          hdr,
					AV1ConfigOBU: bytes.Clone(obu.Raw),
				}
				au.Config = p.config
				p.logger.Debug("AV1 stream %dx%d profile %d level %d", hdr.Width, hdr.Height, hdr.Profile, hdr.Level)
			}
		}
		data = append(data, obu.Raw...)
	}
	if len(data) == 0 {
		return nil, nil
	}
	au.Data = data
	return []accessUnit{au}, nil
}

// vp9Parser reads frame headers for dimensions. Frames, including
// superframes, pass through unchanged.
type vp9Parser struct {
	logger ports.Logger
	config *streamConfig
}

func (p *vp9Parser) Name() string { return pipeline.StageVP9Parse }

func (p *vp9Parser) Parse(buf pipeline.Buffer) ([]accessUnit, error) {
	if len(buf.Data) == 0 {
		return nil, nil
	}
	au := accessUnit{PTS: buf.PTS, KeyFrame: buf.KeyFrame, Data: bytes.Clone(buf.Data)}
	if p.config == nil {
		hdr, err := codec.ParseVP9FrameHeader(buf.Data)
		if err != nil {
			return nil, err
		}
		if hdr.KeyFrame {
			p.config = &streamConfig{
				Codec:      codec.VP9,
				Width:      hdr.Width,
				Height:     hdr.Height,
				VP9Profile: hdr.Profile,
			}
			au.Config = p.config
		}
	}
	return []accessUnit{au}, nil
}
