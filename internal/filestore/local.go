package filestore

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
)

// aferoStore is a FileStore over an afero filesystem. With afero.NewOsFs it
// is the local disk store; tests use afero.NewMemMapFs.
type aferoStore struct {
	fs     afero.Fs
	scheme string
}

// NewLocal returns a FileStore over the local filesystem.
func NewLocal() FileStore {
	return &aferoStore{fs: afero.NewOsFs(), scheme: "file"}
}

// NewMem returns an in-memory FileStore, for tests.
func NewMem() FileStore {
	return &aferoStore{fs: afero.NewMemMapFs(), scheme: "mem"}
}

// Fs exposes the underlying filesystem of a store created by this package.
// Tests use it to inspect written files.
func Fs(store FileStore) afero.Fs {
	if s, ok := store.(*aferoStore); ok {
		return s.fs
	}
	return nil
}

func (s *aferoStore) Get(p string) FileHandle {
	return &aferoHandle{store: s, path: path.Clean(p)}
}

func (s *aferoStore) Close() error {
	return nil
}

type aferoHandle struct {
	store *aferoStore
	path  string
}

func (h *aferoHandle) Exists() (bool, error) {
	_, err := h.store.fs.Stat(h.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (h *aferoHandle) MkDirs() error {
	return h.store.fs.MkdirAll(h.path, 0o755)
}

func (h *aferoHandle) Child(name string) FileHandle {
	return &aferoHandle{store: h.store, path: path.Join(h.path, name)}
}

func (h *aferoHandle) WriteAll(r io.Reader) (int64, error) {
	f, err := h.store.fs.Create(h.path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", h.path, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", h.path, err)
	}
	return n, nil
}

func (h *aferoHandle) Name() string {
	return path.Base(h.path)
}

func (h *aferoHandle) URI() string {
	return h.store.scheme + "://" + h.path
}
