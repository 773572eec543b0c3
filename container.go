package nest

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// Entry is the metadata record for an entry resolved inside a container.
//
// Records are produced by Container implementations; the addressing core
// only reads them.
type Entry struct {
	// Name is the canonical entry name within its container, e.g.
	// "lib/inner.zip" or "com/example/data.bin".
	Name string

	// Size is the uncompressed size of the entry's content in bytes.
	Size int64

	// CompressedSize is the stored size in bytes. Equal to Size for
	// uncompressed entries.
	CompressedSize int64

	// ModTime is the entry's modification time, if the format records one.
	ModTime time.Time

	// Mode is the entry's permission bits, if the format records them.
	Mode fs.FileMode
}

// Container is a handle to an opened archive container. It is the contract
// this package requires of archive readers; the zipfile and estargzfile
// subpackages implement it.
//
// Container lifetime is owned by the implementation, never by this
// package: connections hold references obtained from it and release
// nothing.
//
// Implementations must be safe for concurrent use.
type Container interface {
	// Lookup resolves an entry by its canonical (decoded) name.
	// It reports false when no such entry exists.
	Lookup(name string) (*Entry, bool)

	// OpenNested opens the archive stored at entry as a container in its
	// own right. The returned handle shares the receiver's backing
	// storage where the format allows it.
	OpenNested(ctx context.Context, entry *Entry) (Container, error)

	// Open returns a reader for the entry's decompressed content.
	// A nil reader with a nil error means the container cannot produce a
	// stream for the entry; callers treat that as not-found.
	Open(ctx context.Context, entry *Entry) (io.ReadCloser, error)

	// Size reports the aggregate byte size of the container's backing data.
	Size() int64

	// Name reports a human-readable name for failure messages.
	Name() string

	// Location returns the canonical address of this container, suffixed
	// with the nested-path separator, e.g. "file:///srv/app.zip!/" or
	// "file:///srv/app.zip!/lib/inner.zip!/".
	Location() string

	// RootPath returns the filesystem path of the outermost container's
	// backing file, or "" when the root is not file-backed.
	RootPath() string
}
