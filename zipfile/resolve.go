package zipfile

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/nestfs/nest"
)

// OpenAddress opens the local archive named by addr's outer part and
// resolves the full nested address into a connection.
//
// The returned File is the root container; closing it releases the
// backing file and invalidates the connection. Addresses whose outer part
// is not file-backed are rejected; serve those with NewReader over a
// remote byte source instead.
func OpenAddress(ctx context.Context, addr string, opts ...Option) (*nest.Connection, *File, error) {
	outer, _ := nest.SplitAddress(addr)
	path, err := filePath(outer)
	if err != nil {
		return nil, nil, err
	}
	root, err := Open(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	var connOpts []nest.Option
	if root.logger != nil {
		connOpts = append(connOpts, nest.WithLogger(root.logger))
	}
	conn, err := nest.NewConnection(ctx, addr, root, connOpts...)
	if err != nil {
		root.Close()
		return nil, nil, err
	}
	return conn, root, nil
}

// filePath converts an outer container address to a filesystem path.
func filePath(outer string) (string, error) {
	canonical, err := nest.NormalizeAddress(outer)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(canonical)
	if err != nil {
		return "", fmt.Errorf("%w: %v", nest.ErrMalformedAddress, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("zipfile: scheme %q is not a local file: %w", u.Scheme, errors.ErrUnsupported)
	}
	return u.Path, nil
}
