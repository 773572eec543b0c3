// Package estargzfile opens eStargz archives (seekable tar.gz) as nest
// containers.
//
// Entry metadata comes from the archive's table of contents, so lookups
// and random-access reads never touch more of the backing data than the
// requested ranges. Nested zip archives are served straight from the
// entry's section reader without extraction.
package estargzfile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/containerd/stargz-snapshotter/estargz"
	"golang.org/x/sync/singleflight"

	"github.com/nestfs/nest"
)

// File provides entry lookup and content access for one eStargz archive.
//
// File implements nest.Container. Only regular-file entries are visible;
// directories, symlinks, and hardlinks have no content to address.
type File struct {
	r    *estargz.Reader
	size int64

	location string
	name     string
	rootPath string

	decompressors []estargz.Decompressor
	maxNestedSize int64
	logger        *slog.Logger
	closer        io.Closer

	group    singleflight.Group // zero value is valid
	mu       sync.Mutex
	children map[string]nest.Container
}

// Interface compliance.
var _ nest.Container = (*File)(nil)

// NewReader reads the eStargz archive served by ra as a container rooted
// at location.
//
// location is any address nest.NormalizeAddress accepts; the container
// reports the canonical form, separator-suffixed.
func NewReader(ra io.ReaderAt, size int64, location string, opts ...Option) (*File, error) {
	canonical, err := nest.NormalizeAddress(location)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(canonical, nest.Separator) {
		canonical += nest.Separator
	}
	f := &File{
		size:          size,
		location:      canonical,
		name:          strings.TrimSuffix(canonical, nest.Separator),
		rootPath:      rootPathOf(canonical),
		maxNestedSize: DefaultMaxNestedSize,
	}
	for _, opt := range opts {
		opt(f)
	}

	var openOpts []estargz.OpenOption
	if len(f.decompressors) > 0 {
		openOpts = append(openOpts, estargz.WithDecompressors(f.decompressors...))
	}
	r, err := estargz.Open(io.NewSectionReader(ra, 0, size), openOpts...)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", f.name, err)
	}
	f.r = r
	return f, nil
}

// Open opens the eStargz archive at path for nested-entry access.
//
// The container's location is the canonical file URL of path. Close
// releases the underlying file; nested containers opened from this one
// share it and must not be used afterwards.
func Open(path string, opts ...Option) (*File, error) {
	osf, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	info, err := osf.Stat()
	if err != nil {
		osf.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	f, err := NewReader(osf, info.Size(), path, opts...)
	if err != nil {
		osf.Close()
		return nil, err
	}
	f.closer = osf
	return f, nil
}

// rootPathOf extracts the backing file's filesystem path from a canonical
// location. Empty when the outermost container is not file-backed.
func rootPathOf(location string) string {
	outer, _ := nest.SplitAddress(location)
	u, err := url.Parse(outer)
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return u.Path
}

// log returns the logger, falling back to a discard logger if nil.
func (f *File) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Lookup implements nest.Container against the table of contents.
func (f *File) Lookup(name string) (*nest.Entry, bool) {
	e, ok := f.r.Lookup(name)
	if !ok || e.Type != "reg" {
		return nil, false
	}
	return &nest.Entry{
		Name:           e.Name,
		Size:           e.Size,
		CompressedSize: e.Size,
		ModTime:        e.ModTime(),
		Mode:           e.Stat().Mode(),
	}, true
}

// Open implements nest.Container. The returned reader decompresses the
// entry's chunks on demand; a nil reader with nil error reports an entry
// this archive does not contain.
func (f *File) Open(ctx context.Context, entry *nest.Entry) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e, ok := f.r.Lookup(entry.Name); !ok || e.Type != "reg" {
		return nil, nil
	}
	sr, err := f.r.OpenFile(entry.Name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.Name, err)
	}
	return io.NopCloser(sr), nil
}

// Size implements nest.Container with the archive's byte size.
func (f *File) Size() int64 {
	return f.size
}

// Name implements nest.Container.
func (f *File) Name() string {
	return f.name
}

// Location implements nest.Container.
func (f *File) Location() string {
	return f.location
}

// RootPath implements nest.Container.
func (f *File) RootPath() string {
	return f.rootPath
}

// Close releases the backing file when the container owns one. Containers
// built with NewReader do not own their backing storage, so Close on them
// is a no-op.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}
