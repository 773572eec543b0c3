package nest

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Separator delimits nested-path segments within an address. Everything
// before the first occurrence locates the outer container; each following
// segment names an archive nested in the previous one, except the last,
// which names the final entry.
const Separator = "!/"

// SplitAddress splits an address at the first nested-path separator.
// nested is empty when the address contains no separator; use
// strings.Contains(addr, Separator) when the distinction matters.
func SplitAddress(addr string) (outer, nested string) {
	outer, nested, _ = strings.Cut(addr, Separator)
	return outer, nested
}

// NormalizeAddress canonicalizes the outer-container prefix of addr and
// reattaches any nested-path suffix unchanged. file-scheme and schemeless
// prefixes become absolute file URLs; other schemes pass through. The
// canonical form of a prefix is cached process-wide keyed by its raw text.
//
// Container implementations use this to compute the canonical Location
// they report; [NewConnection] applies it to every address it resolves.
func NormalizeAddress(addr string) (string, error) {
	outer := addr
	var suffix string
	if i := strings.Index(addr, Separator); i >= 0 {
		outer = addr[:i]
		suffix = addr[i:]
	}
	canonical, ok := canonicalAddrs.get(outer)
	if !ok {
		var err error
		canonical, err = canonicalizeOuter(outer)
		if err != nil {
			return "", err
		}
		canonicalAddrs.put(outer, canonical)
	}
	return canonical + suffix, nil
}

// canonicalizeOuter resolves a raw outer-container address to its
// canonical absolute form. file-scheme and schemeless addresses become
// absolute file URLs; other schemes are already absolute and pass through
// untouched. The result does not depend on later working-directory
// changes: relative paths are resolved here, once.
func canonicalizeOuter(outer string) (string, error) {
	if outer == "" {
		return "", fmt.Errorf("%w: empty container address", ErrMalformedAddress)
	}
	u, err := url.Parse(outer)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	switch {
	case u.Scheme == "" && u.Opaque == "":
		return fileAddress(u.Path)
	case u.Scheme == "file":
		path := u.Path
		if u.Opaque != "" {
			// file:relative/path.zip parses as an opaque URL; the opaque
			// part keeps its percent escapes.
			if path, err = url.PathUnescape(u.Opaque); err != nil {
				return "", fmt.Errorf("%w: %v", ErrMalformedAddress, err)
			}
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: unsupported file host %q", ErrMalformedAddress, u.Host)
		}
		if path == "" {
			return "", fmt.Errorf("%w: no file path in %q", ErrMalformedAddress, outer)
		}
		return fileAddress(path)
	default:
		return outer, nil
	}
}

// fileAddress converts a filesystem path to an absolute file URL.
func fileAddress(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty container path", ErrMalformedAddress)
	}
	abs, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
