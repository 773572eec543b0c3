// Package ocifetch retrieves archive artifacts from OCI registries.
//
// Fetch resolves a reference, selects the archive layer from its
// manifest, and downloads the blob into a local content-addressed
// store. The stored file can then be opened like any local archive.
// Fetching is the only operation that touches the network.
package ocifetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// Client fetches archive layers from OCI registries into a local store.
//
// The store is content-addressed: each fetched layer lands at
// <dir>/<algorithm>/<hex digest>. A layer that is already present is
// never downloaded again.
type Client struct {
	dir        string
	mediaType  string
	plainHTTP  bool
	anonymous  bool // skip credential lookup entirely
	userAgent  string
	credStore  credentials.Store
	authClient *auth.Client // shared auth client with token cache
	logger     *slog.Logger
}

// New creates a fetch client that stores archive layers under dir.
func New(dir string, opts ...Option) *Client {
	c := &Client{
		dir:       dir,
		userAgent: "nest-fetch/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}

	// Build shared auth client with token cache
	c.authClient = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if c.anonymous || c.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return c.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{c.userAgent},
		},
	}

	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Dir returns the store directory.
func (c *Client) Dir() string {
	return c.dir
}

// repository creates a Repository for the given reference.
// Uses the shared auth client to reuse tokens across requests.
func (c *Client) repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient

	return repo, nil
}

// parseRef parses a full reference into registry, repository, and tag/digest.
func parseRef(ref string) (registry.Reference, error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return registry.Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return r, nil
}

// Fetch downloads the archive layer of ref into the store and returns
// its local path.
//
// The reference must include a tag or digest. The manifest's first
// layer is fetched unless WithMediaType narrows the selection. Content
// is verified against the layer digest before it becomes visible in
// the store; a layer already present under its digest is returned
// without touching the registry blob endpoint.
func (c *Client) Fetch(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	if parsed.Reference == "" {
		return "", fmt.Errorf("%w: reference must include a tag or digest", ErrInvalidReference)
	}

	c.log().Info("fetching archive", "ref", ref)

	repo, err := c.repository(ref)
	if err != nil {
		return "", err
	}

	desc, rc, err := repo.FetchReference(ctx, parsed.Reference)
	if err != nil {
		return "", mapError(err)
	}
	manifest, err := decodeManifest(rc, &desc)
	if err != nil {
		return "", err
	}
	c.log().Debug("resolved manifest", "ref", ref, "digest", desc.Digest.String())

	layer, err := selectLayer(manifest, c.mediaType)
	if err != nil {
		return "", err
	}
	c.log().Debug("selected archive layer",
		"digest", layer.Digest.String(),
		"mediaType", layer.MediaType,
		"size", layer.Size,
	)

	path := c.blobPath(layer.Digest)
	if _, statErr := os.Stat(path); statErr == nil {
		c.log().Debug("store hit", "digest", layer.Digest.String(), "path", path)
		return path, nil
	}

	blob, err := repo.Fetch(ctx, layer)
	if err != nil {
		return "", fmt.Errorf("fetch archive layer: %w", mapError(err))
	}
	defer blob.Close()

	if err := c.storeBlob(blob, &layer); err != nil {
		return "", err
	}

	c.log().Debug("stored archive layer", "digest", layer.Digest.String(), "path", path)
	return path, nil
}

// decodeManifest reads and decodes an image manifest from rc.
func decodeManifest(rc io.ReadCloser, desc *ocispec.Descriptor) (*ocispec.Manifest, error) {
	defer rc.Close()

	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return nil, fmt.Errorf("%w: manifest media type %q", ErrNoArchiveLayer, desc.MediaType)
	}

	limited := io.LimitReader(rc, desc.Size)

	var manifest ocispec.Manifest
	if err := json.NewDecoder(limited).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// selectLayer picks the archive layer from the manifest.
//
// With a configured media type the first matching layer wins. Otherwise
// the first layer is assumed to be the archive.
func selectLayer(manifest *ocispec.Manifest, mediaType string) (ocispec.Descriptor, error) {
	if len(manifest.Layers) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: manifest has no layers", ErrNoArchiveLayer)
	}

	layer := manifest.Layers[0]
	if mediaType != "" {
		found := false
		for _, l := range manifest.Layers {
			if l.MediaType == mediaType {
				layer = l
				found = true
				break
			}
		}
		if !found {
			return ocispec.Descriptor{}, fmt.Errorf("%w: no layer with media type %q", ErrNoArchiveLayer, mediaType)
		}
	}

	if err := layer.Digest.Validate(); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: layer digest %q: %v", ErrNoArchiveLayer, layer.Digest, err)
	}
	if layer.Size < 0 {
		return ocispec.Descriptor{}, fmt.Errorf("%w: negative layer size %d", ErrNoArchiveLayer, layer.Size)
	}
	return layer, nil
}
