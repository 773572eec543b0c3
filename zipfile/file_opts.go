package zipfile

import "log/slog"

// DefaultMaxNestedSize bounds in-memory inflation of compressed nested
// archives (1 GiB).
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

// WithMaxNestedSize limits how far a compressed nested archive may inflate
// before OpenNested refuses it. Set limit to 0 to disable the limit.
// Stored nested archives are read in place and never count against it.
func WithMaxNestedSize(limit int64) Option {
	return func(f *File) {
		f.maxNestedSize = limit
	}
}
