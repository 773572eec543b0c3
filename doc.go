// Package nest resolves textual addresses that point at entries inside
// nested archive containers and exposes each resolved entry through a
// lazily-connected, read-only [Connection].
//
// An address is an outer container address followed by zero or more
// "!/"-delimited segments. All but the last segment name archives nested
// inside the previous container; the last segment (possibly empty) names
// the final entry:
//
//	file:app.zip!/lib/inner.zip!/com/example/data.bin
//	/srv/bundles/app.zip!/config.yaml
//	https://cdn.example.com/app.zip!/assets/logo.png
//
// An empty final segment addresses the innermost container itself rather
// than an entry within it.
//
// The package performs addressing only. Opening and reading containers is
// delegated to implementations of [Container]; the zipfile and estargzfile
// subpackages provide ready-made ones, and the http subpackage supplies a
// range-request byte source for containers served remotely.
//
// # Resolving an address
//
//	root, err := zipfile.Open("/srv/bundles/app.zip")
//	if err != nil {
//	    return err
//	}
//	defer root.Close()
//
//	conn, err := nest.NewConnection(ctx, root.Location()+"lib/inner.zip!/com/example/data.bin", root)
//	if err != nil {
//	    return err
//	}
//	rc, err := conn.InputStream(ctx)
//
// # Not-found cost
//
// Callers that probe many addresses (classpath-style scanning) can mark a
// context with [WithFastNotFound] to receive the bare, pre-constructed
// [ErrNotFound] instead of a descriptive error, skipping message
// construction on the hot path. Both presentations match
// errors.Is(err, ErrNotFound) and errors.Is(err, fs.ErrNotExist).
package nest
