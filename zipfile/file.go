// Package zipfile opens zip archives as nest containers.
//
// A File is built either from a local path (Open) or from any io.ReaderAt
// (NewReader), so the same code serves archives on disk and archives
// reached over HTTP range requests. Nested archives are opened in place
// when stored uncompressed and inflated into memory otherwise, bounded by
// WithMaxNestedSize.
package zipfile

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nestfs/nest"
)

// File provides entry lookup and content access for one zip archive.
//
// File implements nest.Container. It is safe for concurrent use provided
// the backing reader allows concurrent ReadAt calls; *os.File,
// bytes.Reader, and io.SectionReader all do.
type File struct {
	ra   io.ReaderAt
	size int64

	location string
	name     string
	rootPath string

	zr      *zip.Reader
	entries map[string]*nest.Entry
	files   map[string]*zip.File

	maxNestedSize int64
	logger        *slog.Logger
	closer        io.Closer

	group    singleflight.Group // zero value is valid
	mu       sync.Mutex
	children map[string]*File
}

// Interface compliance.
var _ nest.Container = (*File)(nil)

// NewReader reads the zip archive served by ra as a container rooted at
// location.
//
// location is any address nest.NormalizeAddress accepts; the container
// reports the canonical form, separator-suffixed. Remote locations (for
// example an https URL backed by a range-request reader) pass through
// untouched, and the container then reports no root path.
func NewReader(ra io.ReaderAt, size int64, location string, opts ...Option) (*File, error) {
	canonical, err := nest.NormalizeAddress(location)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(canonical, nest.Separator) {
		canonical += nest.Separator
	}
	f := &File{
		ra:            ra,
		size:          size,
		location:      canonical,
		name:          strings.TrimSuffix(canonical, nest.Separator),
		rootPath:      rootPathOf(canonical),
		maxNestedSize: DefaultMaxNestedSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

// Open opens the zip archive at path for nested-entry access.
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

// load parses the central directory and builds the entry tables.
// Directory entries are skipped; the addressing model has no use for them.
func (f *File) load() error {
	zr, err := zip.NewReader(f.ra, f.size)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", f.name, err)
	}
	registerDecompressors(zr)
	f.zr = zr
	f.entries = make(map[string]*nest.Entry, len(zr.File))
	f.files = make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		f.entries[zf.Name] = &nest.Entry{
			Name:           zf.Name,
			Size:           int64(zf.UncompressedSize64), //nolint:gosec // zip sizes fit in int64
			CompressedSize: int64(zf.CompressedSize64),   //nolint:gosec // zip sizes fit in int64
			ModTime:        zf.Modified,
			Mode:           zf.Mode(),
		}
		f.files[zf.Name] = zf
	}
	return nil
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

// Lookup implements nest.Container. Names match the archive's central
// directory verbatim.
func (f *File) Lookup(name string) (*nest.Entry, bool) {
	entry, ok := f.entries[name]
	return entry, ok
}

// Open implements nest.Container. The returned reader decompresses on the
// fly; a nil reader with nil error reports an entry this archive does not
// contain.
func (f *File) Open(ctx context.Context, entry *nest.Entry) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zf, ok := f.files[entry.Name]
	if !ok {
		return nil, nil
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.Name, err)
	}
	return rc, nil
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
// built with NewReader and nested containers do not own their backing
// storage, so Close on them is a no-op.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}
