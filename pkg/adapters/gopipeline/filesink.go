package gopipeline

import (
	"bufio"
	"fmt"
	"io"

	"github.com/user/mcapvideo/pkg/ports"
)

// fileSink is the tail stage. Writes are buffered and flushed on close.
type fileSink struct {
	path   string
	file   io.WriteCloser
	w      *bufio.Writer
	n      int64
	closed bool
}

func newFileSink(fs ports.FileSystem, path string) (*fileSink, error) {
	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &fileSink{path: path, file: f, w: bufio.NewWriterSize(f, 256*1024)}, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.n += int64(n)
	return n, err
}

// patch overwrites already written bytes at off when the underlying file
// supports it. It reports whether the patch was applied.
func (s *fileSink) patch(off int64, p []byte) (bool, error) {
	wa, ok := s.file.(io.WriterAt)
	if !ok {
		return false, nil
	}
	if err := s.w.Flush(); err != nil {
		return false, err
	}
	if _, err := wa.WriteAt(p, off); err != nil {
		return false, err
	}
	return true, nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (s *fileSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	ferr := s.w.Flush()
	cerr := s.file.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}
