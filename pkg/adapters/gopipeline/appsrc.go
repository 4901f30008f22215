package gopipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/user/mcapvideo/pkg/pipeline"
)

var (
	errNotStarted = errors.New("pipeline not started")
	errEnded      = errors.New("push after end of stream")
)

// appSrc is the head stage: a bounded queue between the producer and the
// streaming goroutine. Push blocks while the queue is full.
type appSrc struct {
	mu    sync.RWMutex
	queue chan pipeline.Buffer
	ended bool
}

func newAppSrc(size int) *appSrc {
	return &appSrc{queue: make(chan pipeline.Buffer, size)}
}

// push enqueues buf. stopped is closed when the streaming goroutine exits.
func (s *appSrc) push(ctx context.Context, buf pipeline.Buffer, stopped <-chan struct{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ended {
		return errEnded
	}
	select {
	case s.queue <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return errors.New("pipeline stopped")
	}
}

// endOfStream closes the queue. Buffers already queued are still delivered.
func (s *appSrc) endOfStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.queue)
	}
}
