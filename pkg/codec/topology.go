package codec

import "github.com/user/mcapvideo/pkg/pipeline"

// topologies is the static codec table. Resolve hands out copies so no
// caller can modify an entry.
var topologies = map[Codec]pipeline.Topology{
	H264: {
		Codec:           string(H264),
		Caps:            "video/x-h264,stream-format=byte-stream,alignment=au",
		Parser:          pipeline.StageH264Parse,
		Muxer:           pipeline.StageMP4Mux,
		MuxerProperties: map[string]any{"faststart": true},
		Extension:       "mp4",
	},
	H265: {
		Codec:           string(H265),
		Caps:            "video/x-h265,stream-format=byte-stream,alignment=au",
		Parser:          pipeline.StageH265Parse,
		Muxer:           pipeline.StageMP4Mux,
		MuxerProperties: map[string]any{"faststart": true},
		Extension:       "mp4",
	},
	AV1: {
		Codec:           string(AV1),
		Caps:            "video/x-av1,stream-format=obu-stream,alignment=tu",
		Parser:          pipeline.StageAV1Parse,
		Muxer:           pipeline.StageMP4Mux,
		MuxerProperties: map[string]any{"faststart": true},
		Extension:       "mp4",
	},
	VP9: {
		Codec:     string(VP9),
		Caps:      "video/x-vp9",
		Parser:    pipeline.StageVP9Parse,
		Muxer:     pipeline.StageIVFMux,
		Extension: "ivf",
	},
}

// Resolve returns the extraction topology for a format tag.
func Resolve(tag string) (pipeline.Topology, error) {
	c, ok := Parse(tag)
	if !ok {
		return pipeline.Topology{}, &UnsupportedCodecError{Tag: tag}
	}
	return topologies[c].Clone(), nil
}

// MustResolve is Resolve for codecs known to be supported.
func MustResolve(c Codec) pipeline.Topology {
	t, err := Resolve(string(c))
	if err != nil {
		panic(err)
	}
	return t
}
