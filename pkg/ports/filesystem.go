package ports

import "io"

// FileSystem abstracts the file operations needed to produce output files.
type FileSystem interface {
	// MkdirAll creates a directory and all parent directories.
	MkdirAll(path string) error

	// Create creates or truncates the file at path for writing.
	Create(path string) (io.WriteCloser, error)
}
