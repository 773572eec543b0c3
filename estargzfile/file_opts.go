package estargzfile

import (
	"log/slog"

	"github.com/containerd/stargz-snapshotter/estargz"
)

// DefaultMaxNestedSize bounds in-memory inflation inside nested zip
// containers opened from this archive (1 GiB).
const DefaultMaxNestedSize int64 = 1 << 30

// Option configures a File.
type Option func(*File)

// WithLogger sets a logger for the container.
// If nil, a discard logger is used (default behavior).
// Nested containers inherit the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// WithDecompressors adds TOC decompressors beyond the default gzip, for
// example zstd-chunked.
func WithDecompressors(d ...estargz.Decompressor) Option {
	return func(f *File) {
		f.decompressors = append(f.decompressors, d...)
	}
}

// WithMaxNestedSize limits in-memory inflation inside nested zip
// containers opened from this archive. Set limit to 0 to disable the
// limit. Entries of this archive itself are always read in place.
func WithMaxNestedSize(limit int64) Option {
	return func(f *File) {
		f.maxNestedSize = limit
	}
}
