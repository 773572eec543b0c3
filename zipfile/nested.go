package zipfile

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/nestfs/nest"
)

// ErrNestedTooLarge is returned when a compressed nested archive would
// inflate past the configured limit.
var ErrNestedTooLarge = errors.New("zipfile: nested archive exceeds size limit")

// OpenNested implements nest.Container.
//
// Stored entries are sliced out of the backing reader without copying;
// compressed entries are inflated into memory, bounded by
// WithMaxNestedSize. Each entry is materialized at most once per
// container; concurrent calls for the same entry share one result.
func (f *File) OpenNested(ctx context.Context, entry *nest.Entry) (nest.Container, error) {
	child, err := f.openNested(ctx, entry)
	if err != nil {
		return nil, err
	}
	return child, nil
}

func (f *File) openNested(ctx context.Context, entry *nest.Entry) (*File, error) {
	f.mu.Lock()
	child, ok := f.children[entry.Name]
	f.mu.Unlock()
	if ok {
		f.log().Debug("nested container cache hit", "entry", entry.Name)
		return child, nil
	}

	result, err, _ := f.group.Do(entry.Name, func() (any, error) {
		// Double-check cache
		f.mu.Lock()
		child, ok := f.children[entry.Name]
		f.mu.Unlock()
		if ok {
			return child, nil
		}

		child, err := f.buildNested(ctx, entry)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		if f.children == nil {
			f.children = make(map[string]*File)
		}
		f.children[entry.Name] = child
		f.mu.Unlock()

		return child, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*File), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// buildNested materializes a random-access view of the entry's bytes and
// parses it as a zip archive in its own right.
func (f *File) buildNested(ctx context.Context, entry *nest.Entry) (*File, error) {
	zf, ok := f.files[entry.Name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: entry.Name, Err: fs.ErrNotExist}
	}

	var ra io.ReaderAt
	size := entry.Size
	if zf.Method == zip.Store {
		off, err := zf.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("locate %s: %w", entry.Name, err)
		}
		ra = io.NewSectionReader(f.ra, off, size)
		f.log().Debug("opening nested archive in place", "entry", entry.Name, "offset", off, "size", size)
	} else {
		data, err := f.inflate(ctx, zf)
		if err != nil {
			return nil, err
		}
		ra = bytes.NewReader(data)
		size = int64(len(data))
		f.log().Debug("inflated nested archive", "entry", entry.Name, "size", size)
	}

	location := f.location + entry.Name + nest.Separator
	child := &File{
		ra:            ra,
		size:          size,
		location:      location,
		name:          strings.TrimSuffix(location, nest.Separator),
		rootPath:      f.rootPath,
		maxNestedSize: f.maxNestedSize,
		logger:        f.logger,
	}
	if err := child.load(); err != nil {
		return nil, err
	}
	return child, nil
}

// inflate decompresses the whole entry into memory, refusing to allocate
// past the configured limit. Central-directory sizes are advisory, so the
// stream itself is bounded as well.
func (f *File) inflate(ctx context.Context, zf *zip.File) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := f.maxNestedSize
	if limit > 0 && zf.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrNestedTooLarge, zf.Name, zf.UncompressedSize64, limit)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("inflate %s: %w", zf.Name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s inflates past %d bytes", ErrNestedTooLarge, zf.Name, limit)
	}
	return data, nil
}
