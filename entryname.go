package nest

import (
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strings"
)

// Content types reported by [Connection.ContentType].
const (
	// ContainerContentType identifies an address that resolves to a whole
	// container rather than an entry inside it.
	ContainerContentType = "x-archive/container"

	// DefaultContentType is reported when no type can be deduced from the
	// entry name's extension.
	DefaultContentType = "application/octet-stream"
)

// entryName is the decoded name of the entry an address points at. The empty
// name denotes the container itself. Content-type deduction is deferred
// until first use and memoized.
type entryName struct {
	name        string
	contentType string
}

func newEntryName(spec string) (*entryName, error) {
	name, err := decodeEntryName(spec)
	if err != nil {
		return nil, err
	}
	return &entryName{name: name}, nil
}

func (e *entryName) String() string { return e.name }

func (e *entryName) isEmpty() bool { return e.name == "" }

func (e *entryName) ContentType() string {
	if e.contentType == "" {
		e.contentType = e.deduceContentType()
	}
	return e.contentType
}

func (e *entryName) deduceContentType() string {
	if e.isEmpty() {
		return ContainerContentType
	}
	if typ := mime.TypeByExtension(path.Ext(e.name)); typ != "" {
		return typ
	}
	return DefaultContentType
}

// decodeEntryName resolves percent escapes in an entry-name segment. Names
// without escapes pass through unchanged, so decoding an already-decoded
// name is idempotent. Bytes above 0x7F are kept as raw UTF-8 so decoded
// names stay symmetric with how container indexes store them.
func decodeEntryName(spec string) (string, error) {
	if spec == "" || !strings.Contains(spec, "%") {
		return spec, nil
	}
	buf := make([]byte, 0, len(spec))
	for i := 0; i < len(spec); i++ {
		c := spec[i]
		if c != '%' {
			buf = append(buf, c)
			continue
		}
		if i+2 >= len(spec) {
			return "", fmt.Errorf("%w: truncated escape %q", ErrMalformedAddress, spec[i:])
		}
		b, err := hex.DecodeString(spec[i+1 : i+3])
		if err != nil {
			return "", fmt.Errorf("%w: invalid escape %q", ErrMalformedAddress, spec[i:i+3])
		}
		buf = append(buf, b[0])
		i += 2
	}
	return string(buf), nil
}
