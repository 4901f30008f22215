// Package codecdetect reads back a produced container file and reports the
// video codec it carries. The orchestrator uses it to verify outputs.
package codecdetect

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/user/mcapvideo/pkg/codec"
)

// Container identifies the file format of a produced file.
type Container string

const (
	ContainerMP4     Container = "mp4"
	ContainerIVF     Container = "ivf"
	ContainerUnknown Container = "unknown"
)

// Result describes what was found in a file.
type Result struct {
	Container Container
	Codec     codec.Codec
	Width     int
	Height    int
	Samples   int // number of video samples or IVF frames
}

// ErrNoVideoTrack is returned when a file has no recognizable video track.
var ErrNoVideoTrack = errors.New("no video track found")

// DetectFromFile detects the container and video codec of the file at path.
func DetectFromFile(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{Container: ContainerUnknown}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return DetectFromReader(f)
}

// DetectFromBytes detects the container and video codec of in-memory data.
func DetectFromBytes(data []byte) (Result, error) {
	return DetectFromReader(bytes.NewReader(data))
}

// DetectFromReader sniffs the first bytes, then decodes the container. The
// reader is rewound before returning.
func DetectFromReader(reader io.ReadSeeker) (Result, error) {
	var magic [ivfHeaderSize]byte
	n, err := io.ReadFull(reader, magic[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Result{Container: ContainerUnknown}, fmt.Errorf("read header: %w", err)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return Result{Container: ContainerUnknown}, fmt.Errorf("seek: %w", err)
	}

	if n >= 4 && string(magic[:4]) == "DKIF" {
		if n < ivfHeaderSize {
			return Result{Container: ContainerIVF}, fmt.Errorf("truncated IVF header (%d bytes)", n)
		}
		return detectIVF(magic[:])
	}
	return detectMP4(reader)
}

const ivfHeaderSize = 32

func detectIVF(hdr []byte) (Result, error) {
	res := Result{
		Container: ContainerIVF,
		Width:     int(binary.LittleEndian.Uint16(hdr[12:])),
		Height:    int(binary.LittleEndian.Uint16(hdr[14:])),
		Samples:   int(binary.LittleEndian.Uint32(hdr[24:])),
	}
	switch fourcc := string(hdr[8:12]); fourcc {
	case "VP90":
		res.Codec = codec.VP9
	case "AV01":
		res.Codec = codec.AV1
	default:
		return res, fmt.Errorf("unknown IVF fourcc %q", fourcc)
	}
	return res, nil
}

func detectMP4(reader io.ReadSeeker) (Result, error) {
	mp4File, err := mp4.DecodeFile(reader)
	if err != nil {
		return Result{Container: ContainerUnknown}, fmt.Errorf("decode mp4: %w", err)
	}
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return Result{Container: ContainerMP4}, fmt.Errorf("seek: %w", err)
	}

	fragmented := mp4File.IsFragmented() && mp4File.Init != nil
	moov := mp4File.Moov
	if fragmented {
		moov = mp4File.Init.Moov
	}
	if moov != nil {
		for _, trak := range moov.Traks {
			res, ok := detectFromTrack(trak)
			if !ok {
				continue
			}
			if fragmented {
				res.Samples = fragmentSamples(mp4File, trak.Tkhd.TrackID)
			} else if stsz := trak.Mdia.Minf.Stbl.Stsz; stsz != nil {
				res.Samples = int(stsz.SampleNumber)
			}
			return res, nil
		}
	}
	return Result{Container: ContainerMP4}, ErrNoVideoTrack
}

// fragmentSamples counts the samples of trackID across every fragment.
func fragmentSamples(f *mp4.File, trackID uint32) int {
	n := 0
	for _, seg := range f.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != trackID {
					continue
				}
				for _, trun := range traf.Truns {
					n += int(trun.SampleCount())
				}
			}
		}
	}
	return n
}

func detectFromTrack(trak *mp4.TrakBox) (Result, bool) {
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
		return Result{}, false
	}
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return Result{}, false
	}

	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		res := Result{Container: ContainerMP4}
		switch child.Type() {
		case "avc1", "avc3":
			res.Codec = codec.H264
		case "hvc1", "hev1":
			res.Codec = codec.H265
		case "av01":
			res.Codec = codec.AV1
		case "vp09":
			res.Codec = codec.VP9
		default:
			continue
		}
		if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
			res.Width, res.Height = int(vse.Width), int(vse.Height)
		}
		return res, true
	}
	return Result{}, false
}

// Verify checks that the file at path holds a video track of the expected
// codec and, when frames is positive, exactly that many samples.
func Verify(path string, want codec.Codec, frames int) (Result, error) {
	res, err := DetectFromFile(path)
	if err != nil {
		return res, err
	}
	if res.Codec != want {
		return res, fmt.Errorf("%s contains %s, expected %s", path, res.Codec, want)
	}
	if frames > 0 && res.Samples != frames {
		return res, fmt.Errorf("%s holds %d samples, expected %d", path, res.Samples, frames)
	}
	return res, nil
}
