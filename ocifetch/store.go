package ocifetch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// blobPath returns the content-addressed store location for a digest.
func (c *Client) blobPath(dgst digest.Digest) string {
	return filepath.Join(c.dir, dgst.Algorithm().String(), dgst.Encoded())
}

// storeBlob streams r into the store, verifying size and digest along
// the way.
//
// Content lands under a temporary name and is renamed into place only
// after verification, so partial or corrupt downloads never become
// visible. Concurrent fetchers of the same digest converge on the same
// final path.
func (c *Client) storeBlob(r io.Reader, desc *ocispec.Descriptor) (err error) {
	dir := filepath.Join(c.dir, desc.Digest.Algorithm().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()           //nolint:errcheck // best-effort cleanup
			_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	verifier := desc.Digest.Verifier()
	n, err := io.Copy(tmp, io.TeeReader(r, verifier))
	if err != nil {
		return fmt.Errorf("write archive layer: %w", err)
	}
	if n != desc.Size {
		return fmt.Errorf("write archive layer: size mismatch: got %d, want %d", n, desc.Size)
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w: expected %s", ErrDigestMismatch, desc.Digest)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	path := c.blobPath(desc.Digest)
	if err = os.Rename(tmp.Name(), path); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			// Another fetcher won the race; its copy is equivalent.
			_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
			return nil
		}
		return fmt.Errorf("rename into store: %w", err)
	}
	return nil
}
