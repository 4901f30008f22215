package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
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
	f := frame.VideoFrame{FrameID: "cam0", Format: format, Data: data}
	return ports.Message{LogTime: logTime, Data: frame.Encode(f, binary.LittleEndian)}
}

func h264Job() *Job {
	return NewJob("video/Cam0/stream", "out/video_Cam0_stream.mp4", codec.MustResolve(codec.H264))
}

func TestDriver_DropsOutOfOrderFrames(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	d := New(backend, logger.NewNoop(), 0)
	job := h264Job()

	source := mocks.NewMessageIterator(
		message(100, "h264", idr),
		message(50, "h264", inter),
		message(300, "h264", inter),
	)

	result, err := d.Run(context.Background(), job, source)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.FramesWritten != 2 {
		t.Errorf("expected frames_written=2, got %d", result.FramesWritten)
	}
	if result.FramesDropped != 1 {
		t.Errorf("expected 1 dropped frame, got %d", result.FramesDropped)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].LogTime != 50 || result.Warnings[0].Previous != 100 {
		t.Errorf("unexpected warnings: %+v", result.Warnings)
	}
	if result.Duration != 200*time.Nanosecond {
		t.Errorf("expected duration 200ns, got %v", result.Duration)
	}
	if job.State != StateCompleted {
		t.Errorf("expected state completed, got %s", job.State)
	}

	buffers := backend.Pipelines()[0].Buffers()
	if len(buffers) != 2 {
		t.Fatalf("expected 2 buffers, got %d", len(buffers))
	}
	wantPTS := []time.Duration{0, 200}
	for i, buf := range buffers {
		if buf.PTS != wantPTS[i] {
			t.Errorf("buffer %d: expected PTS %v, got %v", i, wantPTS[i], buf.PTS)
		}
	}
	if !buffers[0].KeyFrame || buffers[1].KeyFrame {
		t.Errorf("unexpected key frame flags: %v, %v", buffers[0].KeyFrame, buffers[1].KeyFrame)
	}
	for i, buf := range buffers {
		if buf.Duration != 200 {
			t.Errorf("buffer %d: expected duration 200ns, got %v", i, buf.Duration)
		}
	}
}

func TestDriver_SkipsFramesBeforeFirstKeyFrame(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	source := mocks.NewMessageIterator(
		message(1000, "h264", inter),
		message(1033, "h264", inter),
		message(1066, "h264", idr),
		message(1100, "h264", inter),
		message(1110, "h264", inter),
	)

	result, err := New(backend, logger.NewNoop(), 0).Run(context.Background(), h264Job(), source)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.FramesSkipped != 2 || result.FramesWritten != 3 || result.FramesDropped != 0 {
		t.Errorf("unexpected counters: %+v", result)
	}
	if result.Duration != 44*time.Nanosecond {
		t.Errorf("expected duration 44ns, got %v", result.Duration)
	}

	buffers := backend.Pipelines()[0].Buffers()
	if len(buffers) != result.FramesWritten {
		t.Fatalf("expected %d buffers, got %d", result.FramesWritten, len(buffers))
	}
	want := []struct {
		pts, dur time.Duration
		key      bool
	}{
		{0, 34, true},
		{34, 10, false},
		{44, 10, false},
	}
	for i, w := range want {
		got := buffers[i]
		if got.PTS != w.pts || got.Duration != w.dur || got.KeyFrame != w.key {
			t.Errorf("buffer %d: expected pts=%v dur=%v key=%v, got pts=%v dur=%v key=%v",
				i, w.pts, w.dur, w.key, got.PTS, got.Duration, got.KeyFrame)
		}
	}
}

func TestDriver_NoKeyFrame(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	job := h264Job()
	source := mocks.NewMessageIterator(message(1, "h264", inter), message(2, "h264", inter))

	_, err := New(backend, logger.NewNoop(), 0).Run(context.Background(), job, source)
	if !errors.Is(err, ErrNoKeyFrame) {
		t.Fatalf("expected ErrNoKeyFrame, got %v", err)
	}
	if job.FramesSkipped != 2 || job.FramesWritten != 0 {
		t.Errorf("unexpected counters: skipped=%d written=%d", job.FramesSkipped, job.FramesWritten)
	}
	if len(backend.Pipelines()[0].Buffers()) != 0 {
		t.Error("expected no buffers to be pushed")
	}
}

func TestDriver_TimelineStartsAtZero(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	d := New(backend, logger.NewNoop(), 1)

	base := uint64(1_700_000_000_000_000_000)
	logTimes := []uint64{base, base + 33_000_000, base + 33_000_000, base + 100_000_000, base + 90_000_000, base + 133_000_000}
	var msgs []ports.Message
	for i, lt := range logTimes {
		data := inter
		if i == 0 {
			data = idr
		}
		msgs = append(msgs, message(lt, "h264", data))
	}

	result, err := d.Run(context.Background(), h264Job(), mocks.NewMessageIterator(msgs...))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.FramesWritten != 5 {
		t.Errorf("expected 5 frames written, got %d", result.FramesWritten)
	}

	buffers := backend.Pipelines()[0].Buffers()
	if buffers[0].PTS != 0 {
		t.Errorf("expected first PTS 0, got %v", buffers[0].PTS)
	}
	for i := 1; i < len(buffers); i++ {
		if buffers[i].PTS < buffers[i-1].PTS {
			t.Errorf("PTS went backwards at %d: %v < %v", i, buffers[i].PTS, buffers[i-1].PTS)
		}
	}
}

func TestDriver_StateOnFailure(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		configure func(b *mocks.PipelineBackend)
		msgs      []ports.Message
		wantState State
		wantErr   error
		written   int
	}{
		{
			name:      "build fails",
			configure: func(b *mocks.PipelineBackend) { b.BuildErr = boom },
			msgs:      []ports.Message{message(1, "h264", idr)},
			wantState: StateIdle,
			wantErr:   boom,
		},
		{
			name: "start fails",
			configure: func(b *mocks.PipelineBackend) {
				b.Configure = func(p *mocks.Pipeline) { p.StartErr = boom }
			},
			msgs:      []ports.Message{message(1, "h264", idr)},
			wantState: StateConfigured,
			wantErr:   boom,
		},
		{
			name: "push fails",
			configure: func(b *mocks.PipelineBackend) {
				b.Configure = func(p *mocks.Pipeline) {
					n := 0
					p.PushFunc = func(ctx context.Context, buf pipeline.Buffer) error {
						n++
						if n == 2 {
							return pipeline.NewError(pipeline.StageAppSrc, boom)
						}
						return nil
					}
				}
			},
			msgs:      []ports.Message{message(1, "h264", idr), message(2, "h264", inter), message(3, "h264", inter)},
			wantState: StateRunning,
			wantErr:   boom,
			written:   1,
		},
		{
			name: "muxer error while draining",
			configure: func(b *mocks.PipelineBackend) {
				b.Configure = func(p *mocks.Pipeline) { p.EOSError = boom }
			},
			msgs:      []ports.Message{message(1, "h264", idr), message(2, "h264", inter)},
			wantState: StateDraining,
			wantErr:   boom,
			written:   2,
		},
		{
			name:      "decode error",
			configure: func(b *mocks.PipelineBackend) {},
			msgs:      []ports.Message{message(1, "h264", idr), {LogTime: 2, Data: []byte{0, 1, 0, 0, 1}}},
			wantState: StateRunning,
			wantErr:   frame.ErrTruncated,
			written:   1,
		},
		{
			name:      "unknown format",
			configure: func(b *mocks.PipelineBackend) {},
			msgs:      []ports.Message{message(1, "mjpeg", idr)},
			wantState: StateRunning,
			wantErr:   frame.ErrUnknownFormat,
		},
		{
			name:      "mixed formats",
			configure: func(b *mocks.PipelineBackend) {},
			msgs:      []ports.Message{message(1, "h264", idr), message(2, "h265", inter)},
			wantState: StateRunning,
			wantErr:   frame.ErrMixedFormat,
			written:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mocks.NewPipelineBackend()
			tt.configure(backend)
			job := h264Job()

			_, err := New(backend, logger.NewNoop(), 0).Run(context.Background(), job, mocks.NewMessageIterator(tt.msgs...))
			if err == nil {
				t.Fatal("expected error")
			}

			var extractErr *ExtractionError
			if !errors.As(err, &extractErr) {
				t.Fatalf("expected ExtractionError, got %T", err)
			}
			if extractErr.State != tt.wantState {
				t.Errorf("expected failure in %s, got %s", tt.wantState, extractErr.State)
			}
			if extractErr.FramesWritten != tt.written {
				t.Errorf("expected %d frames written, got %d", tt.written, extractErr.FramesWritten)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v in chain, got %v", tt.wantErr, err)
			}
			if job.State != StateFailed {
				t.Errorf("expected job state failed, got %s", job.State)
			}

			for _, p := range backend.Pipelines() {
				if p.CloseCount() == 0 {
					t.Error("expected pipeline to be torn down")
				}
			}
		})
	}
}

func TestDriver_PipelineErrorCarriesStage(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	backend.Configure = func(p *mocks.Pipeline) { p.EOSError = errors.New("moov write failed") }

	_, err := New(backend, logger.NewNoop(), 0).Run(context.Background(), h264Job(), mocks.NewMessageIterator(message(1, "h264", idr)))

	var perr *pipeline.PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if perr.Stage != pipeline.StageMP4Mux {
		t.Errorf("expected stage %s, got %s", pipeline.StageMP4Mux, perr.Stage)
	}
}

func TestDriver_UnexpectedEOS(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	backend.Configure = func(p *mocks.Pipeline) {
		p.PushFunc = func(ctx context.Context, buf pipeline.Buffer) error {
			p.Post(pipeline.Message{Type: pipeline.MessageEOS, Stage: pipeline.StageFileSink})
			return nil
		}
	}

	// The third message is held back so the early EOS posted by the first
	// push is the only event.
	release := make(chan struct{})
	defer close(release)
	source := &gatedIterator{gate: release, open: 2, msgs: []ports.Message{
		message(1, "h264", idr), message(2, "h264", inter), message(3, "h264", inter),
	}}
	_, err := New(backend, logger.NewNoop(), 1).Run(context.Background(), h264Job(), source)
	if !errors.Is(err, ErrUnexpectedEOS) {
		t.Errorf("expected ErrUnexpectedEOS, got %v", err)
	}
}

func TestDriver_CancelWhileDraining(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	backend.Configure = func(p *mocks.Pipeline) { p.HoldEOS = true }

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	job := h264Job()
	_, err := New(backend, logger.NewNoop(), 0).Run(ctx, job, mocks.NewMessageIterator(message(1, "h264", idr)))

	var extractErr *ExtractionError
	if !errors.As(err, &extractErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if extractErr.State != StateDraining {
		t.Errorf("expected failure while draining, got %s", extractErr.State)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if backend.Pipelines()[0].CloseCount() != 1 {
		t.Error("expected pipeline to be torn down once")
	}
}

func TestDriver_CancelWhileBlockedOnPush(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	backend.Configure = func(p *mocks.Pipeline) {
		p.PushFunc = func(ctx context.Context, buf pipeline.Buffer) error {
			<-ctx.Done()
			return ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var msgs []ports.Message
	for i := 0; i < 100; i++ {
		msgs = append(msgs, message(uint64(i), "h264", idr))
	}

	job := h264Job()
	_, err := New(backend, logger.NewNoop(), 2).Run(ctx, job, mocks.NewMessageIterator(msgs...))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.State != StateFailed {
		t.Errorf("expected job state failed, got %s", job.State)
	}
}

func TestDriver_EmptyChannel(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	job := h264Job()

	result, err := New(backend, logger.NewNoop(), 0).Run(context.Background(), job, mocks.NewMessageIterator())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.FramesWritten != 0 || result.Duration != 0 {
		t.Errorf("unexpected result: %+v", result)
	}
	if !backend.Pipelines()[0].Ended() {
		t.Error("expected end of stream to be signalled")
	}
}

func TestDriver_JobReuse(t *testing.T) {
	backend := mocks.NewPipelineBackend()
	d := New(backend, logger.NewNoop(), 0)
	job := h264Job()

	if _, err := d.Run(context.Background(), job, mocks.NewMessageIterator(message(1, "h264", idr))); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := d.Run(context.Background(), job, mocks.NewMessageIterator(message(1, "h264", idr))); err == nil {
		t.Error("expected error when running a finished job")
	}
}

func TestState_String(t *testing.T) {
	states := map[State]string{
		StateIdle:       "idle",
		StateConfigured: "configured",
		StateRunning:    "running",
		StateDraining:   "draining",
		StateCompleted:  "completed",
		StateFailed:     "failed",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("expected %s, got %s", want, s.String())
		}
	}
	if !StateCompleted.Terminal() || !StateFailed.Terminal() || StateDraining.Terminal() {
		t.Error("unexpected terminal states")
	}
}

// gatedIterator yields its first open messages immediately and the rest only
// after gate is closed.
type gatedIterator struct {
	gate <-chan struct{}
	open int
	msgs []ports.Message
	pos  int
}

func (it *gatedIterator) Next() (ports.Message, error) {
	if it.pos >= it.open {
		<-it.gate
	}
	if it.pos >= len(it.msgs) {
		return ports.Message{}, io.EOF
	}
	msg := it.msgs[it.pos]
	it.pos++
	return msg, nil
}

func (it *gatedIterator) Close() error { return nil }
