package estargzfile

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/nestfs/nest"
	"github.com/nestfs/nest/zipfile"
)

// OpenNested implements nest.Container.
//
// The nested archive is read as a zip container directly from the entry's
// section reader; its content is never copied out of the backing archive.
// Each entry is materialized at most once per container; concurrent calls
// for the same entry share one result.
func (f *File) OpenNested(ctx context.Context, entry *nest.Entry) (nest.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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

		child, err := f.buildNested(entry)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		if f.children == nil {
			f.children = make(map[string]nest.Container)
		}
		f.children[entry.Name] = child
		f.mu.Unlock()

		return child, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(nest.Container), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// buildNested opens the entry's bytes as a zip container rooted below
// this archive's location.
func (f *File) buildNested(entry *nest.Entry) (nest.Container, error) {
	if e, ok := f.r.Lookup(entry.Name); !ok || e.Type != "reg" {
		return nil, &fs.PathError{Op: "open", Path: entry.Name, Err: fs.ErrNotExist}
	}
	sr, err := f.r.OpenFile(entry.Name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.Name, err)
	}

	location := f.location + entry.Name + nest.Separator
	f.log().Debug("opening nested archive", "entry", entry.Name, "size", sr.Size())

	opts := []zipfile.Option{zipfile.WithMaxNestedSize(f.maxNestedSize)}
	if f.logger != nil {
		opts = append(opts, zipfile.WithLogger(f.logger))
	}
	child, err := zipfile.NewReader(sr, sr.Size(), location, opts...)
	if err != nil {
		return nil, err
	}
	return child, nil
}
