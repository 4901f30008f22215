package mcapreader

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/mcapvideo/pkg/adapters/logger"
	"github.com/user/mcapvideo/pkg/frame"
	"github.com/user/mcapvideo/pkg/ports"
)

func videoMessages(format string, logTimes ...uint64) []ports.Message {
	var msgs []ports.Message
	for _, lt := range logTimes {
		f := frame.VideoFrame{FrameID: "cam", Format: format, Data: []byte{0, 0, 0, 1, 0x65, byte(lt)}}
		msgs = append(msgs, ports.Message{LogTime: lt, Data: frame.Encode(f, binary.LittleEndian)})
	}
	return msgs
}

func writeFixture(t *testing.T, channels []FixtureChannel, opts FixtureOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.mcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()
	if err := WriteRecording(f, channels, opts); err != nil {
		t.Fatalf("WriteRecording failed: %v", err)
	}
	return path
}

func fixtureChannels() []FixtureChannel {
	return []FixtureChannel{
		{Topic: "/camera/front", Messages: videoMessages("h264", 1000, 2000, 1500, 3000)},
		{Topic: "/imu", SchemaName: "sensor_msgs/msg/Imu", Messages: []ports.Message{{LogTime: 1100, Data: []byte{1, 2, 3}}}},
		{Topic: "/camera/back", SchemaName: ports.CompressedVideoROS2Schema, Messages: videoMessages("h265", 10, 20)},
	}
}

func readAll(t *testing.T, it ports.MessageIterator) []ports.Message {
	t.Helper()
	defer it.Close()
	var msgs []ports.Message
	for {
		msg, err := it.Next()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func TestRecording_Channels(t *testing.T) {
	layouts := []struct {
		name string
		opts FixtureOptions
	}{
		{name: "chunked zstd", opts: FixtureOptions{Compression: "zstd"}},
		{name: "chunked lz4", opts: FixtureOptions{Compression: "lz4"}},
		{name: "unindexed", opts: FixtureOptions{Unindexed: true}},
	}

	for _, layout := range layouts {
		t.Run(layout.name, func(t *testing.T) {
			path := writeFixture(t, fixtureChannels(), layout.opts)
			rec, err := Open(path, OrderFile, logger.NewNoop())
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}

			channels, err := rec.Channels(context.Background())
			if err != nil {
				t.Fatalf("Channels failed: %v", err)
			}
			if len(channels) != 3 {
				t.Fatalf("expected 3 channels, got %d", len(channels))
			}

			wantTopics := []string{"/camera/back", "/camera/front", "/imu"}
			wantVideo := []bool{true, true, false}
			wantCounts := []uint64{2, 4, 1}
			for i, ch := range channels {
				if ch.Topic != wantTopics[i] {
					t.Errorf("channel %d: expected topic %s, got %s", i, wantTopics[i], ch.Topic)
				}
				if ch.IsCompressedVideo() != wantVideo[i] {
					t.Errorf("%s: expected IsCompressedVideo %v", ch.Topic, wantVideo[i])
				}
				if ch.MessageCount != wantCounts[i] {
					t.Errorf("%s: expected %d messages, got %d", ch.Topic, wantCounts[i], ch.MessageCount)
				}
			}
		})
	}
}

func TestRecording_MessagesFileOrder(t *testing.T) {
	path := writeFixture(t, fixtureChannels(), FixtureOptions{Compression: "zstd"})
	rec, err := Open(path, OrderFile, logger.NewNoop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	it, err := rec.Messages(context.Background(), ports.ChannelInfo{ID: 1, Topic: "/camera/front"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	msgs := readAll(t, it)

	want := []uint64{1000, 2000, 1500, 3000}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, msg := range msgs {
		if msg.LogTime != want[i] {
			t.Errorf("message %d: expected log time %d, got %d", i, want[i], msg.LogTime)
		}
		f, err := frame.Decode(msg.Data)
		if err != nil {
			t.Fatalf("message %d: decode failed: %v", i, err)
		}
		if f.Format != "h264" {
			t.Errorf("message %d: expected format h264, got %s", i, f.Format)
		}
	}
}

func TestRecording_MessagesLogTimeOrder(t *testing.T) {
	path := writeFixture(t, fixtureChannels(), FixtureOptions{Compression: "lz4"})
	rec, err := Open(path, OrderLogTime, logger.NewNoop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	it, err := rec.Messages(context.Background(), ports.ChannelInfo{ID: 1, Topic: "/camera/front"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	msgs := readAll(t, it)

	want := []uint64{1000, 1500, 2000, 3000}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, msg := range msgs {
		if msg.LogTime != want[i] {
			t.Errorf("message %d: expected log time %d, got %d", i, want[i], msg.LogTime)
		}
	}
}

func TestRecording_LogTimeOrderUnindexedFallsBack(t *testing.T) {
	path := writeFixture(t, fixtureChannels(), FixtureOptions{Unindexed: true})
	rec, err := Open(path, OrderLogTime, logger.NewNoop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	it, err := rec.Messages(context.Background(), ports.ChannelInfo{ID: 1, Topic: "/camera/front"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if got := len(readAll(t, it)); got != 4 {
		t.Errorf("expected 4 messages, got %d", got)
	}
}

func TestRecording_IndependentIterators(t *testing.T) {
	path := writeFixture(t, fixtureChannels(), FixtureOptions{})
	rec, err := Open(path, OrderFile, logger.NewNoop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	front, err := rec.Messages(context.Background(), ports.ChannelInfo{ID: 1, Topic: "/camera/front"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	back, err := rec.Messages(context.Background(), ports.ChannelInfo{ID: 3, Topic: "/camera/back"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}

	if _, err := front.Next(); err != nil {
		t.Fatalf("front Next failed: %v", err)
	}
	if got := len(readAll(t, back)); got != 2 {
		t.Errorf("expected 2 back messages, got %d", got)
	}
	if got := len(readAll(t, front)); got != 3 {
		t.Errorf("expected 3 remaining front messages, got %d", got)
	}
}

func TestRecording_CancelledIterator(t *testing.T) {
	path := writeFixture(t, fixtureChannels(), FixtureOptions{})
	rec, err := Open(path, OrderFile, logger.NewNoop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	it, err := rec.Messages(ctx, ports.ChannelInfo{ID: 1, Topic: "/camera/front"})
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	defer it.Close()
	cancel()

	if _, err := it.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOpen_NotMCAP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.mcap")
	if err := os.WriteFile(path, []byte("definitely not an mcap file"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Open(path, OrderFile, logger.NewNoop()); err == nil {
		t.Error("expected error for non-MCAP file")
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.mcap"), OrderFile, logger.NewNoop()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseReadOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    ReadOrder
		wantErr bool
	}{
		{"", OrderFile, false},
		{"file", OrderFile, false},
		{"log_time", OrderLogTime, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParseReadOrder(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseReadOrder(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseReadOrder(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
