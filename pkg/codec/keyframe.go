package codec

import (
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
)

// IsKeyFrame reports whether data, one compressed frame of codec c, can be
// decoded without reference to earlier frames.
func IsKeyFrame(c Codec, data []byte) bool {
	switch c {
	case H264:
		for _, nalu := range SplitAnnexB(data) {
			if len(nalu) > 0 && avc.GetNaluType(nalu[0]) == avc.NALU_IDR {
				return true
			}
		}
	case H265:
		for _, nalu := range SplitAnnexB(data) {
			if len(nalu) > 1 && isH265IRAP(hevc.GetNaluType(nalu[0])) {
				return true
			}
		}
	case VP9:
		hdr, err := ParseVP9FrameHeader(data)
		return err == nil && hdr.KeyFrame
	case AV1:
		return av1KeyFrame(data)
	}
	return false
}

func av1KeyFrame(data []byte) bool {
	obus, err := SplitOBUs(data)
	if err != nil {
		return false
	}
	sawSequenceHeader := false
	for _, obu := range obus {
		switch obu.Type {
		case OBUSequenceHeader:
			sawSequenceHeader = true
		case OBUFrame, OBUFrameHeader:
			key, ok := av1FrameIsKey(obu.Payload)
			if ok {
				return key
			}
		}
	}
	return sawSequenceHeader
}
