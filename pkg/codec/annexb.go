package codec

import (
	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
)

// SplitAnnexB splits an Annex B byte stream into NAL units without start codes.
func SplitAnnexB(data []byte) [][]byte {
	return avc.ExtractNalusFromByteStream(data)
}

// H264ParameterSets collects the SPS and PPS NAL units of an access unit.
func H264ParameterSets(nalus [][]byte) (spss, ppss [][]byte) {
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch avc.GetNaluType(nalu[0]) {
		case avc.NALU_SPS:
			spss = append(spss, nalu)
		case avc.NALU_PPS:
			ppss = append(ppss, nalu)
		}
	}
	return spss, ppss
}

// H265ParameterSets collects the VPS, SPS and PPS NAL units of an access unit.
func H265ParameterSets(nalus [][]byte) (vpss, spss, ppss [][]byte) {
	for _, nalu := range nalus {
		if len(nalu) < 2 {
			continue
		}
		switch hevc.GetNaluType(nalu[0]) {
		case hevc.NALU_VPS:
			vpss = append(vpss, nalu)
		case hevc.NALU_SPS:
			spss = append(spss, nalu)
		case hevc.NALU_PPS:
			ppss = append(ppss, nalu)
		}
	}
	return vpss, spss, ppss
}

// isH265IRAP reports whether an H.265 NAL unit type is an intra random access point.
func isH265IRAP(t hevc.NaluType) bool {
	return t >= 16 && t <= 23
}
