package main

import (
	"bytes"
	"encoding/binary"

	"github.com/icza/bitio"

	"github.com/user/mcapvideo/pkg/adapters/mcapreader"
	"github.com/user/mcapvideo/pkg/frame"
	"github.com/user/mcapvideo/pkg/ports"
)

// demoEpoch is the log time of the first message, in nanoseconds.
const demoEpoch = 1_700_000_000_000_000_000

// 1280x720 High profile parameter sets.
var (
	demoSPS = []byte{
		0x67, 0x64, 0x00, 0x1f, 0xac, 0xd9, 0x40, 0x50,
		0x05, 0xbb, 0xff, 0x00, 0x03, 0x00, 0x04, 0x6a,
		0x02, 0x02, 0x02, 0x80, 0x00, 0x01, 0xf4, 0x80,
		0x00, 0x5d, 0xc0, 0x07, 0x8c, 0x18, 0xcb,
	}
	demoPPS = []byte{0x68, 0xeb, 0xe3, 0xcb, 0x22, 0xc0}
)

// demoChannels returns a recording with an H.264 camera, a VP9 camera, an
// MJPEG camera that cannot be extracted and a non-video channel. One H.264
// message is stored late so extraction drops it.
func demoChannels() []mcapreader.FixtureChannel {
	front := make([]ports.Message, 0, 60)
	for i := 0; i < 60; i++ {
		var data []byte
		if i%30 == 0 {
			data = annexB(demoSPS, demoPPS, []byte{0x65, 0x88, 0x84, 0x00, byte(i)})
		} else {
			data = annexB([]byte{0x41, 0x9a, 0x02, byte(i)})
		}
		front = append(front, demoMessage(uint64(i)*33_333_333, "cam_front", "h264", data))
	}
	front[41], front[42] = front[42], front[41]

	rear := make([]ports.Message, 0, 30)
	for i := 0; i < 30; i++ {
		rear = append(rear, demoMessage(uint64(i)*66_666_666, "cam_rear", "vp9", vp9Frame(i%15 == 0)))
	}

	thermal := make([]ports.Message, 0, 5)
	for i := 0; i < 5; i++ {
		thermal = append(thermal, demoMessage(uint64(i)*200_000_000, "cam_thermal", "mjpeg", []byte{0xff, 0xd8, 0xff, 0xd9}))
	}

	imu := make([]ports.Message, 0, 100)
	for i := 0; i < 100; i++ {
		imu = append(imu, ports.Message{LogTime: demoEpoch + uint64(i)*20_000_000, Data: make([]byte, 32)})
	}

	return []mcapreader.FixtureChannel{
		{Topic: "/camera/front/h264", Messages: front},
		{Topic: "/camera/rear/vp9", SchemaName: ports.CompressedVideoROS2Schema, Messages: rear},
		{Topic: "/camera/thermal", Messages: thermal},
		{Topic: "/imu", SchemaName: "sensor_msgs/msg/Imu", Messages: imu},
	}
}

func demoMessage(offset uint64, frameID, format string, data []byte) ports.Message {
	logTime := demoEpoch + offset
	f := frame.VideoFrame{FrameTime: logTime, FrameID: frameID, Format: format, Data: data}
	return ports.Message{
		LogTime:     logTime,
		PublishTime: logTime,
		Data:        frame.Encode(f, binary.LittleEndian),
	}
}

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, nalu := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nalu...)
	}
	return out
}

// vp9Frame returns a 320x180 profile 0 frame header followed by filler.
func vp9Frame(key bool) []byte {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	w.TryWriteBits(2, 2) // frame_marker
	w.TryWriteBits(0, 2) // profile
	w.TryWriteBool(false)
	w.TryWriteBool(!key) // frame_type
	w.TryWriteBool(true) // show_frame
	w.TryWriteBool(false)
	if key {
		w.TryWriteBits(0x498342, 24)
		w.TryWriteBits(1, 3) // color_space BT.601
		w.TryWriteBool(false)
		w.TryWriteBits(319, 16)
		w.TryWriteBits(179, 16)
	}
	w.Close()
	return append(buf.Bytes(), 0x00, 0x5a, 0xa5, 0x00)
}
