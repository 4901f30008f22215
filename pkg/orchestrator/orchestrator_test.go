package orchestrator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/mcapvideo/pkg/adapters/logger"
	"github.com/user/mcapvideo/pkg/codec"
	"github.com/user/mcapvideo/pkg/frame"
	"github.com/user/mcapvideo/pkg/mocks"
	"github.com/user/mcapvideo/pkg/pipeline"
	"github.com/user/mcapvideo/pkg/ports"
)

var (
	idr   = []byte{0, 0, 0, 1, 0x65, 0x88, 0x84}
	inter = []byte{0, 0, 0, 1, 0x41, 0x9A, 0x02}
)

func message(logTime uint64, format string, data []byte) ports.Message {
	f := frame.VideoFrame{FrameID: "cam", Format: format, Data: data}
	return ports.Message{LogTime: logTime, Data: frame.Encode(f, binary.LittleEndian)}
}

func videoChannel(topic string) ports.ChannelInfo {
	return ports.ChannelInfo{
		Topic:           topic,
		SchemaName:      ports.CompressedVideoSchema,
		SchemaEncoding:  "ros2msg",
		MessageEncoding: ports.EncodingCDR,
	}
}

func h264Messages(logTimes ...uint64) []ports.Message {
	msgs := make([]ports.Message, len(logTimes))
	for i, lt := range logTimes {
		data := inter
		if i == 0 {
			data = idr
		}
		msgs[i] = message(lt, "h264", data)
	}
	return msgs
}

type fixture struct {
	recording *mocks.Recording
	backend   *mocks.PipelineBackend
	fs        *mocks.FileSystem
}

func newFixture() *fixture {
	return &fixture{
		recording: mocks.NewRecording(),
		backend:   mocks.NewPipelineBackend(),
		fs:        mocks.NewFileSystem(),
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	return New(f.recording, f.backend, f.fs, logger.NewNoop(), opts...)
}

func TestList_OnlySupportedSchema(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("video/Cam0/stream"), h264Messages(1000, 2000, 3000, 5000, 6000)...)
	f.recording.AddChannel(ports.ChannelInfo{
		Topic:           "imu",
		SchemaName:      "sensor_msgs/msg/Imu",
		MessageEncoding: ports.EncodingCDR,
	}, ports.Message{LogTime: 1, Data: []byte{1, 2, 3}})

	summaries, err := f.orchestrator().List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Channel != "video/Cam0/stream" || s.FrameCount != 5 || s.Codec != codec.H264 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.Duration != 5000 {
		t.Errorf("expected duration 5000ns, got %d", s.Duration)
	}
	if len(f.backend.Pipelines()) != 0 {
		t.Error("expected listing to build no pipelines")
	}
}

func TestList_SortedByTopic(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("video/b"), h264Messages(1)...)
	f.recording.AddChannel(videoChannel("video/a"), h264Messages(1)...)

	summaries, err := f.orchestrator().List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Channel != "video/a" || summaries[1].Channel != "video/b" {
		t.Errorf("unexpected order: %+v", summaries)
	}
}

func TestList_ChannelsError(t *testing.T) {
	f := newFixture()
	f.recording.ChannelsErr = errors.New("bad summary")

	if _, err := f.orchestrator().List(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestExtract_SingleChannel(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("video/Cam0/stream"), h264Messages(100, 50, 300)...)

	report, err := f.orchestrator().Extract(context.Background(), Config{
		Selector:  "video/Cam0/stream",
		OutputDir: "out",
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !report.OK() || len(report.Results) != 1 {
		t.Fatalf("expected one completed job, got %+v", report.Results)
	}

	res := report.Results[0]
	if res.OutputPath != "out/video_Cam0_stream.mp4" {
		t.Errorf("unexpected output path %s", res.OutputPath)
	}
	if res.Codec != codec.H264 || res.FramesWritten != 2 || res.FramesDropped != 1 {
		t.Errorf("unexpected report: %+v", res)
	}
	if res.Duration != 200 {
		t.Errorf("expected duration 200ns, got %s", res.Duration)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected one ordering warning, got %v", res.Warnings)
	}

	p := f.backend.Pipelines()[0]
	var pts []time.Duration
	for _, buf := range p.Buffers() {
		pts = append(pts, buf.PTS)
	}
	if len(pts) != 2 || pts[0] != 0 || pts[1] != 200 {
		t.Errorf("expected PTS [0 200], got %v", pts)
	}
	if dirs := f.fs.GetDirs(); len(dirs) != 1 || dirs[0] != "out" {
		t.Errorf("expected output directory to be created, got %v", dirs)
	}
}

func TestExtract_AllWithUnsupportedCodec(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("cam/front"), h264Messages(1, 2)...)
	f.recording.AddChannel(videoChannel("cam/rear"), message(1, "mjpeg", []byte{0xff, 0xd8}))

	report, err := f.orchestrator().Extract(context.Background(), Config{Selector: SelectAll, OutputDir: "out"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if report.OK() {
		t.Error("expected report to fail")
	}
	if len(report.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(report.Results))
	}
	if !report.Results[0].OK() {
		t.Errorf("expected cam/front to complete, got %v", report.Results[0].Err)
	}

	rear := report.Results[1]
	if rear.Channel != "cam/rear" || rear.Status != StatusFailed {
		t.Errorf("unexpected report for cam/rear: %+v", rear)
	}
	var unsupported *codec.UnsupportedCodecError
	if !errors.As(rear.Err, &unsupported) || unsupported.Tag != "mjpeg" {
		t.Errorf("expected UnsupportedCodecError for mjpeg, got %v", rear.Err)
	}
	if report.Failed() != 1 {
		t.Errorf("expected 1 failed job, got %d", report.Failed())
	}
	if n := len(f.backend.Pipelines()); n != 1 {
		t.Errorf("expected 1 pipeline, got %d", n)
	}
}

func TestExtract_ChannelNotFound(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("video/Cam0/stream"), h264Messages(1)...)
	f.recording.AddChannel(ports.ChannelInfo{Topic: "tf", SchemaName: "tf2_msgs/msg/TFMessage", MessageEncoding: ports.EncodingCDR})

	for _, selector := range []string{"video/Cam9/stream", "tf"} {
		t.Run(selector, func(t *testing.T) {
			report, err := f.orchestrator().Extract(context.Background(), Config{Selector: selector, OutputDir: "out"})
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if len(report.Results) != 1 {
				t.Fatalf("expected a single result, got %d", len(report.Results))
			}
			res := report.Results[0]
			if res.Channel != selector || !errors.Is(res.Err, ErrChannelNotFound) {
				t.Errorf("expected ChannelNotFound for %s, got %+v", selector, res)
			}
			if report.OK() {
				t.Error("expected report to fail")
			}
		})
	}

	if files := f.fs.GetAllFiles(); len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
	if dirs := f.fs.GetDirs(); len(dirs) != 0 {
		t.Errorf("expected no directories, got %v", dirs)
	}
	if n := len(f.backend.Pipelines()); n != 0 {
		t.Errorf("expected no pipelines, got %d", n)
	}
}

func TestExtract_AllWithoutVideoChannels(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(ports.ChannelInfo{Topic: "imu", SchemaName: "sensor_msgs/msg/Imu", MessageEncoding: ports.EncodingCDR})

	report, err := f.orchestrator().Extract(context.Background(), Config{Selector: SelectAll, OutputDir: "out"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("expected no results, got %+v", report.Results)
	}
	if !report.OK() {
		t.Error("expected a recording without video to succeed")
	}
	if dirs := f.fs.GetDirs(); len(dirs) != 0 {
		t.Errorf("expected no directories, got %v", dirs)
	}
}

func TestExtract_NoSelector(t *testing.T) {
	f := newFixture()
	if _, err := f.orchestrator().Extract(context.Background(), Config{}); !errors.Is(err, ErrNoSelector) {
		t.Errorf("expected ErrNoSelector, got %v", err)
	}
}

func TestExtract_FailureDoesNotStopSiblings(t *testing.T) {
	for _, jobs := range []int{1, 3} {
		f := newFixture()
		f.recording.AddChannel(videoChannel("a"), h264Messages(1, 2)...)
		f.recording.AddChannel(videoChannel("b"), h264Messages(1, 2)...)
		f.recording.AddChannel(videoChannel("c"), h264Messages(1, 2)...)
		f.backend.Configure = func(p *mocks.Pipeline) {
			if p.OutputPath == "out/b.mp4" {
				p.EOSError = errors.New("qtmux: not negotiated")
			}
		}

		report, err := f.orchestrator().Extract(context.Background(), Config{Selector: SelectAll, OutputDir: "out", Jobs: jobs})
		if err != nil {
			t.Fatalf("jobs=%d: Extract failed: %v", jobs, err)
		}
		var status []Status
		for _, r := range report.Results {
			status = append(status, r.Status)
		}
		want := []Status{StatusCompleted, StatusFailed, StatusCompleted}
		for i := range want {
			if status[i] != want[i] {
				t.Errorf("jobs=%d: expected %v, got %v", jobs, want, status)
				break
			}
		}
		var perr *pipeline.PipelineError
		if !errors.As(report.Results[1].Err, &perr) {
			t.Errorf("jobs=%d: expected PipelineError, got %v", jobs, report.Results[1].Err)
		}
	}
}

func TestExtract_RunsJobsConcurrently(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("a"), h264Messages(1)...)
	f.recording.AddChannel(videoChannel("b"), h264Messages(1)...)

	var wg sync.WaitGroup
	wg.Add(2)
	f.backend.Configure = func(p *mocks.Pipeline) {
		p.PushFunc = func(ctx context.Context, buf pipeline.Buffer) error {
			// Both jobs must be pushing at the same time to get past here.
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	report, err := f.orchestrator().Extract(context.Background(), Config{
		Selector:  SelectAll,
		OutputDir: "out",
		Jobs:      2,
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !report.OK() {
		t.Errorf("expected both jobs to complete: %+v", report.Results)
	}
}

func TestExtract_TimeoutFailsHungJob(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("a"), h264Messages(1, 2)...)
	f.backend.Configure = func(p *mocks.Pipeline) { p.HoldEOS = true }

	report, err := f.orchestrator().Extract(context.Background(), Config{
		Selector:  "a",
		OutputDir: "out",
		Timeout:   50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	res := report.Results[0]
	if res.OK() || !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Errorf("expected deadline failure, got %+v", res)
	}
	if res.FramesWritten != 2 {
		t.Errorf("expected frames written before the hang to be reported, got %d", res.FramesWritten)
	}
	if p := f.backend.Pipelines()[0]; p.CloseCount() == 0 {
		t.Error("expected pipeline teardown")
	}
}

func TestExtract_CodecFromFirstDecodableFrame(t *testing.T) {
	f := newFixture()
	msgs := append([]ports.Message{{LogTime: 1, Data: []byte{0x00, 0x01}}}, h264Messages(2, 3)...)
	f.recording.AddChannel(videoChannel("cam"), msgs...)

	report, err := f.orchestrator().Extract(context.Background(), Config{Selector: "cam", OutputDir: "out"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	res := report.Results[0]
	if res.Codec != codec.H264 {
		t.Errorf("expected h264, got %q", res.Codec)
	}
	var derr *frame.DecodeError
	if !errors.As(res.Err, &derr) || !errors.Is(res.Err, frame.ErrTruncated) {
		t.Errorf("expected the truncated message to fail extraction, got %v", res.Err)
	}
}

func TestExtract_EmptyChannel(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("cam"))

	report, err := f.orchestrator().Extract(context.Background(), Config{Selector: "cam", OutputDir: "out"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !errors.Is(report.Results[0].Err, ErrNoFrames) {
		t.Errorf("expected ErrNoFrames, got %v", report.Results[0].Err)
	}
}

func TestExtract_ReportsSkippedLeadingFrames(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("cam"),
		message(10, "h264", inter),
		message(20, "h264", idr),
		message(30, "h264", inter),
	)

	report, err := f.orchestrator().Extract(context.Background(), Config{Selector: "cam", OutputDir: "out"})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	res := report.Results[0]
	if !res.OK() || res.FramesSkipped != 1 || res.FramesWritten != 2 {
		t.Fatalf("unexpected report: %+v", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "cam: skipped 1 frames before the first key frame" {
		t.Errorf("unexpected warnings %v", res.Warnings)
	}
	if pts := f.backend.Pipelines()[0].Buffers()[0].PTS; pts != 0 {
		t.Errorf("expected the first written frame at 0, got %v", pts)
	}
}

func TestExtract_Verify(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("cam"), h264Messages(1)...)

	var checked []string
	verify := func(path string, c codec.Codec, frames int) error {
		checked = append(checked, fmt.Sprintf("%s:%s:%d", path, c, frames))
		return errors.New("contains av1")
	}

	report, err := f.orchestrator(WithVerifier(verify)).Extract(context.Background(), Config{
		Selector:     "cam",
		OutputDir:    "out",
		VerifyOutput: true,
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(checked) != 1 || checked[0] != "out/cam.mp4:h264:1" {
		t.Errorf("unexpected verification calls %v", checked)
	}
	if !report.OK() || len(report.Results[0].Warnings) != 1 {
		t.Errorf("expected a completed job with a verification warning, got %+v", report.Results[0])
	}
}

func TestExtract_MkdirFails(t *testing.T) {
	f := newFixture()
	f.recording.AddChannel(videoChannel("cam"), h264Messages(1)...)
	f.fs.MkdirAllFunc = func(string) error { return errors.New("read-only filesystem") }

	if _, err := f.orchestrator().Extract(context.Background(), Config{Selector: "cam", OutputDir: "out"}); err == nil {
		t.Error("expected error")
	}
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"video/Cam0/stream":  "video_Cam0_stream",
		"/camera/image/h264": "camera_image_h264",
		"front camera (rgb)": "front_camera__rgb",
		"../../etc/passwd":   "etc_passwd",
		"..":                 "channel",
		"":                   "channel",
		"cam-1.raw":          "cam-1.raw",
		"カメラ":                "channel",
	}
	for in, want := range tests {
		if got := SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutputPaths_Collisions(t *testing.T) {
	channels := []ports.ChannelInfo{
		{Topic: "cam/a"},
		{Topic: "cam_a"},
		{Topic: "cam/a "},
		{Topic: "CAM/A"},
	}
	got := outputPaths(channels)
	want := []string{"cam_a", "cam_a-2", "cam_a-3", "CAM_A-4"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}

	unique := make(map[string]bool)
	for _, name := range got {
		unique[name] = true
	}
	if len(unique) != len(got) {
		t.Errorf("expected distinct names, got %v", got)
	}
}
