package nest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Sentinel errors.
var (
	// ErrMalformedAddress is returned when an address cannot be parsed:
	// an invalid percent escape in the entry segment or an outer address
	// that does not canonicalize.
	ErrMalformedAddress = errors.New("nest: malformed address")

	// ErrNoEntryName is returned when a byte stream is requested for an
	// address whose entry name is empty, i.e. one that denotes a container
	// as a whole rather than an entry inside it.
	ErrNoEntryName = fmt.Errorf("nest: address names a container, not an entry: %w", errors.ErrUnsupported)
)

// ErrNotFound is the bare not-found sentinel. It carries no detail about
// the entry or container so that raising it costs nothing; it is what
// lookups return under [WithFastNotFound]. Without the flag, lookups
// return a *NotFoundError that unwraps to this sentinel, so
// errors.Is(err, ErrNotFound) matches both presentations.
var ErrNotFound error = notFoundSentinel{}

// notFoundSentinel is a zero-width error value shared by every fast
// not-found failure.
type notFoundSentinel struct{}

func (notFoundSentinel) Error() string { return "nest: entry not found" }

// Is reports fs.ErrNotExist so callers using the standard library's
// classification continue to work.
func (notFoundSentinel) Is(target error) bool { return target == fs.ErrNotExist }

// NotFoundError is the descriptive not-found presentation. It names the
// missing entry and the container it was looked up in.
type NotFoundError struct {
	// Entry is the name of the entry that could not be resolved.
	Entry string

	// Container is the human-readable name of the container searched.
	Container string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("nest: entry %q not found in %s", e.Entry, e.Container)
}

// Unwrap links the descriptive presentation to the ErrNotFound sentinel.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// notFound builds the not-found failure for the given entry and container,
// honoring the fast-exception flag carried by ctx.
func notFound(ctx context.Context, entry string, c Container) error {
	if FastNotFound(ctx) {
		return ErrNotFound
	}
	return &NotFoundError{Entry: entry, Container: c.Name()}
}

// fastNotFoundKey marks contexts created by WithFastNotFound.
type fastNotFoundKey struct{}

// WithFastNotFound returns a context under which not-found failures are
// reported as the bare [ErrNotFound] sentinel instead of a descriptive
// *NotFoundError. The flag is scoped to the returned context and its
// descendants; it never leaks to unrelated calls.
//
// The trade is deliberate: callers that probe many addresses and expect
// most to miss avoid the cost of building an error message per miss, at
// the price of a failure that names neither entry nor container.
func WithFastNotFound(ctx context.Context) context.Context {
	return context.WithValue(ctx, fastNotFoundKey{}, true)
}

// FastNotFound reports whether ctx requests cheap not-found failures.
func FastNotFound(ctx context.Context) bool {
	on, _ := ctx.Value(fastNotFoundKey{}).(bool)
	return on
}
