// Package filestore abstracts the destination that export result files are
// written to. The orchestrator only depends on the handle contract; concrete
// stores (local disk, in-memory) are interchangeable.
package filestore

import "io"

// FileHandle is a pointer into a file store. A handle may refer to a file or
// directory that does not exist yet.
type FileHandle interface {
	// Exists reports whether the target is present in the store.
	Exists() (bool, error)

	// MkDirs creates the target as a directory, including any missing
	// parents.
	MkDirs() error

	// Child returns a handle for the named entry under this handle.
	Child(name string) FileHandle

	// WriteAll streams r into the target, replacing any existing content,
	// and returns the number of bytes written.
	WriteAll(r io.Reader) (int64, error)

	// Name returns the last path element of the handle.
	Name() string

	// URI returns the store-specific location of the handle.
	URI() string
}

// FileStore resolves paths to handles. Stores hold no per-export state; Close
// releases any backend resources.
type FileStore interface {
	Get(path string) FileHandle
	Close() error
}
