// Package blobstore implements the content-addressed byte store.
//
// Objects are written to a staging file and atomically renamed into place
// under a path derived from their sha3-256 hash, so a blob is either fully
// absent or fully present; readers never observe a partial write. Writing
// bytes that are already stored is a no-op that converges on the existing
// object.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docpipe/docpipe/common/logger"
)

// Store is the content-addressed object store interface.
type Store interface {
	// Create starts a staged write. The returned session must be finished
	// with Commit or Abort.
	Create(ctx context.Context) (WriteSession, error)
	// Open returns a reader over a stored object.
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
	// Exists reports whether an object is stored under the hash.
	Exists(ctx context.Context, hash string) (bool, error)
}

// WriteSession is one staged blob write.
type WriteSession interface {
	io.Writer
	// Commit finishes the write, moves the object into place and returns
	// its digest. Committing content that already exists is a no-op.
	Commit(ctx context.Context) (*Digest, error)
	// Abort discards the staged data.
	Abort() error
}

// FSStore stores objects on a filesystem, sharded two levels deep by hash
// prefix to keep directory sizes sane.
type FSStore struct {
	root string
	tmp  string
	log  *logger.Logger
}

// NewFSStore creates a filesystem blob store rooted at root
func NewFSStore(root string, log *logger.Logger) (*FSStore, error) {
	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob store root: %w", err)
	}
	return &FSStore{
		root: root,
		tmp:  tmp,
		log:  log,
	}, nil
}

// Path returns the storage path for a hash
func (s *FSStore) Path(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:4], hash)
}

// Create starts a staged write
func (s *FSStore) Create(ctx context.Context) (WriteSession, error) {
	f, err := os.CreateTemp(s.tmp, "new-blob-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return &fsSession{
		store:  s,
		file:   f,
		writer: NewWriter(),
	}, nil
}

// Open returns a reader over a stored object
func (s *FSStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	return f, nil
}

// Exists reports whether an object is stored under the hash
func (s *FSStore) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := os.Stat(s.Path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob %s: %w", hash, err)
}

type fsSession struct {
	store  *FSStore
	file   *os.File
	writer *Writer
	done   bool
}

func (w *fsSession) Write(p []byte) (int, error) {
	if _, err := w.writer.Write(p); err != nil {
		return 0, err
	}
	return w.file.Write(p)
}

func (w *fsSession) Commit(ctx context.Context) (*Digest, error) {
	if w.done {
		return nil, fmt.Errorf("write session already finished")
	}
	w.done = true

	// Flush to disk before the rename so a crash right after publish
	// cannot leave an empty or truncated file at the final path
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.file.Name())
		return nil, fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return nil, fmt.Errorf("failed to close staging file: %w", err)
	}

	digest := w.writer.Finish()
	final := w.store.Path(digest.SHA3_256)

	exists, err := w.store.Exists(ctx, digest.SHA3_256)
	if err != nil {
		os.Remove(w.file.Name())
		return nil, err
	}
	if exists {
		// Identical content raced in first; converge on it
		os.Remove(w.file.Name())
		return digest, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		os.Remove(w.file.Name())
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.Chmod(w.file.Name(), 0o444); err != nil {
		os.Remove(w.file.Name())
		return nil, fmt.Errorf("failed to chmod staged blob: %w", err)
	}

	if err := os.Rename(w.file.Name(), final); err != nil {
		os.Remove(w.file.Name())
		return nil, fmt.Errorf("failed to publish blob %s: %w", digest.SHA3_256, err)
	}
	syncDir(filepath.Dir(final))

	w.store.log.Debug("stored blob", "hash", digest.SHA3_256, "size", digest.Size)
	return digest, nil
}

// syncDir persists a directory entry so the rename itself survives a crash.
// Best effort; some filesystems don't support fsync on directories.
func syncDir(path string) {
	dir, err := os.Open(path)
	if err != nil {
		return
	}
	dir.Sync()
	dir.Close()
}

func (w *fsSession) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.file.Close()
	return os.Remove(w.file.Name())
}
