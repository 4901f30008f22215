package codecdetect

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/user/mcapvideo/pkg/codec"
)

var (
	testSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	testPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

func avcInit(t *testing.T) []byte {
	t.Helper()
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(90000, "video", "en")
	if err := init.Moov.Trak.SetAVCDescriptor("avc1", [][]byte{testSPS}, [][]byte{testPPS}, true); err != nil {
		t.Fatalf("SetAVCDescriptor failed: %v", err)
	}
	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Bytes()
}

func ivfHeader(fourcc string, width, height uint16) []byte {
	hdr := make([]byte, ivfHeaderSize)
	copy(hdr, "DKIF")
	binary.LittleEndian.PutUint16(hdr[6:], ivfHeaderSize)
	copy(hdr[8:], fourcc)
	binary.LittleEndian.PutUint16(hdr[12:], width)
	binary.LittleEndian.PutUint16(hdr[14:], height)
	binary.LittleEndian.PutUint32(hdr[24:], 7)
	return hdr
}

func TestDetectFromBytes(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		container Container
		codec     codec.Codec
		width     int
		height    int
	}{
		{"fragmented avc1", nil, ContainerMP4, codec.H264, 1280, 720},
		{"ivf vp9", ivfHeader("VP90", 320, 180), ContainerIVF, codec.VP9, 320, 180},
		{"ivf av1", ivfHeader("AV01", 640, 360), ContainerIVF, codec.AV1, 640, 360},
	}
	tests[0].data = avcInit(t)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := DetectFromBytes(tt.data)
			if err != nil {
				t.Fatalf("DetectFromBytes failed: %v", err)
			}
			if res.Container != tt.container {
				t.Errorf("expected container %s, got %s", tt.container, res.Container)
			}
			if res.Codec != tt.codec {
				t.Errorf("expected codec %s, got %s", tt.codec, res.Codec)
			}
			if res.Width != tt.width || res.Height != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, res.Width, res.Height)
			}
		})
	}
}

func TestDetectFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not a video file at all, just text")},
		{"truncated ivf", []byte("DKIF\x00\x00")},
		{"unknown fourcc", ivfHeader("MJPG", 10, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DetectFromBytes(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDetectFromBytes_AudioOnly(t *testing.T) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(48000, "audio", "en")
	var buf bytes.Buffer
	if err := init.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, err := DetectFromBytes(buf.Bytes())
	if !errors.Is(err, ErrNoVideoTrack) {
		t.Errorf("expected ErrNoVideoTrack, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cam.ivf")
	if err := os.WriteFile(path, ivfHeader("VP90", 320, 180), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Verify(path, codec.VP9, 0); err != nil {
		t.Errorf("Verify(vp9) failed: %v", err)
	}
	if _, err := Verify(path, codec.VP9, 7); err != nil {
		t.Errorf("Verify(vp9, 7 frames) failed: %v", err)
	}
	if _, err := Verify(path, codec.VP9, 8); err == nil {
		t.Error("expected sample count mismatch")
	}
	if _, err := Verify(path, codec.AV1, 0); err == nil {
		t.Error("expected codec mismatch error")
	}
	if _, err := Verify(filepath.Join(dir, "missing.mp4"), codec.H264, 0); err == nil {
		t.Error("expected error for missing file")
	}
}
