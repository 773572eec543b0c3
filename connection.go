package nest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// connState tracks the one-way lifecycle of a Connection.
type connState uint8

const (
	stateUnconnected connState = iota
	stateConnected
)

// Connection is a lazily-established, read-only view of a single entry (or
// of a whole container) located by a nested-archive address.
//
// Building a connection normalizes the address and opens every intermediate
// container, but the final entry is not looked up until [Connection.Connect]
// or the first operation that needs entry data. Once connected, a connection
// stays connected.
//
// A Connection is not safe for concurrent use; the process-wide state it
// touches (the address-normalization cache) is.
type Connection struct {
	addr      string
	container Container
	entryName *entryName
	perm      Permission
	logger    *slog.Logger

	state         connState
	entry         *Entry
	containerAddr string
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets a logger for the connection.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		c.logger = logger
	}
}

// NewConnection resolves addr against the root container and returns an
// unconnected Connection addressing the innermost entry.
//
// The outer part of the address is canonicalized first, so relative and
// absolute spellings of the same file resolve identically. Each
// intermediate "!/" segment is looked up verbatim in its container and
// opened as a nested container; a missing segment fails with a not-found
// error honoring [WithFastNotFound]. The final segment is percent-decoded
// here, eagerly, so a malformed escape fails construction rather than
// first use. The final entry itself is not looked up until Connect.
func NewConnection(ctx context.Context, addr string, root Container, opts ...Option) (*Connection, error) {
	normalized, err := NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	c := &Connection{addr: normalized}
	for _, opt := range opts {
		opt(c)
	}

	rest, ok := strings.CutPrefix(normalized, root.Location())
	if !ok {
		// A bare container address carries no separator; it names the
		// container itself.
		if normalized+Separator != root.Location() {
			return nil, fmt.Errorf("%w: address %q is outside container %s", ErrNotFound, normalized, root.Name())
		}
		rest = ""
	}
	container := root
	for {
		idx := strings.Index(rest, Separator)
		if idx <= 0 {
			break
		}
		segment := rest[:idx]
		entry, ok := container.Lookup(segment)
		if !ok {
			return nil, notFound(ctx, segment, container)
		}
		c.log().Debug("opening nested container", "entry", segment, "container", container.Name())
		nested, err := container.OpenNested(ctx, entry)
		if err != nil {
			return nil, err
		}
		container = nested
		rest = rest[idx+len(Separator):]
	}
	name, err := newEntryName(rest)
	if err != nil {
		return nil, err
	}

	c.container = container
	c.entryName = name
	c.perm = NewPermission(root.RootPath())
	return c, nil
}

func (c *Connection) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Connect looks the addressed entry up in its container and caches the
// record. An empty entry name denotes the container itself and connects
// without any lookup. Connect is idempotent; a failed attempt leaves the
// connection unconnected and may be retried.
func (c *Connection) Connect(ctx context.Context) error {
	if !c.entryName.isEmpty() && c.entry == nil {
		entry, ok := c.container.Lookup(c.entryName.String())
		if !ok {
			return notFound(ctx, c.entryName.String(), c.container)
		}
		c.entry = entry
	}
	c.state = stateConnected
	return nil
}

// Connected reports whether Connect has completed successfully.
func (c *Connection) Connected() bool {
	return c.state == stateConnected
}

// Container connects and returns the innermost container the address
// resolved to.
func (c *Connection) Container(ctx context.Context) (Container, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.container, nil
}

// Entry connects and returns the resolved entry record. When the address
// names the container itself there is no record; Entry returns nil without
// connecting.
func (c *Connection) Entry(ctx context.Context) (*Entry, error) {
	if c.entryName.isEmpty() {
		return nil, nil
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.entry, nil
}

// EntryName returns the decoded entry name, empty when the address names
// the container itself. It requires no connection.
func (c *Connection) EntryName() string {
	return c.entryName.String()
}

// InputStream connects and opens a reader over the entry's content. An
// address naming a whole container has no byte stream; InputStream fails
// with [ErrNoEntryName] for those.
func (c *Connection) InputStream(ctx context.Context) (io.ReadCloser, error) {
	if c.entryName.isEmpty() {
		return nil, ErrNoEntryName
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	rc, err := c.container.Open(ctx, c.entry)
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, notFound(ctx, c.entryName.String(), c.container)
	}
	return rc, nil
}

// ContentLength returns the entry's uncompressed size, or the container's
// size when the address names the container itself. Failure to resolve the
// entry is reported as -1, never as an error.
func (c *Connection) ContentLength(ctx context.Context) int64 {
	if c.entryName.isEmpty() {
		return c.container.Size()
	}
	entry, err := c.Entry(ctx)
	if err != nil || entry == nil {
		return -1
	}
	return entry.Size
}

// Content connects and returns what the address points at: the [Container]
// itself when the entry name is empty, otherwise the entry's bytes.
func (c *Connection) Content(ctx context.Context) (any, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if c.entryName.isEmpty() {
		return c.container, nil
	}
	rc, err := c.InputStream(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ContentType returns the content type deduced from the entry name:
// [ContainerContentType] for an empty name, the extension-mapped type
// otherwise, falling back to [DefaultContentType]. It requires no
// connection.
func (c *Connection) ContentType() string {
	return c.entryName.ContentType()
}

// Permission returns the read permission covering the root container's
// backing file. It never fails and requires no connection.
func (c *Connection) Permission() Permission {
	return c.perm
}

// ContainerAddress returns the canonical address of the innermost
// container, without the trailing separator, suitable for re-addressing
// the container as a whole. The result is memoized.
func (c *Connection) ContainerAddress() string {
	if c.containerAddr == "" {
		c.containerAddr = strings.TrimSuffix(c.container.Location(), Separator)
	}
	return c.containerAddr
}

// Address returns the normalized composite address the connection was
// built from.
func (c *Connection) Address() string {
	return c.addr
}
