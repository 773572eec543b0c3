package ocifetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestfs/nest/internal/testutil"
	"github.com/nestfs/nest/zipfile"
)

const zipMediaType = "application/vnd.example.archive.v1+zip"

// fakeRegistry serves manifests and blobs for a single repository over
// the registry v2 wire protocol, enough for Fetch to run against.
type fakeRegistry struct {
	repo      string
	manifests map[string][]byte // tag or digest -> raw manifest
	blobs     map[string][]byte // digest -> content
	blobGets  atomic.Int32
}

func newFakeRegistry(repo string) *fakeRegistry {
	return &fakeRegistry{
		repo:      repo,
		manifests: make(map[string][]byte),
		blobs:     make(map[string][]byte),
	}
}

// addBlob registers content and returns its descriptor.
func (f *fakeRegistry) addBlob(mediaType string, data []byte) ocispec.Descriptor {
	dgst := digest.FromBytes(data)
	f.blobs[dgst.String()] = data
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    dgst,
		Size:      int64(len(data)),
	}
}

// addManifest registers an image manifest under a tag and its digest.
func (f *fakeRegistry) addManifest(tb testing.TB, tag string, layers ...ocispec.Descriptor) digest.Digest {
	tb.Helper()

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.DescriptorEmptyJSON,
		Layers:    layers,
	}
	raw, err := json.Marshal(manifest)
	require.NoError(tb, err)

	dgst := digest.FromBytes(raw)
	f.manifests[tag] = raw
	f.manifests[dgst.String()] = raw
	return dgst
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	manifestPrefix := "/v2/" + f.repo + "/manifests/"
	blobPrefix := "/v2/" + f.repo + "/blobs/"

	switch {
	case strings.HasPrefix(r.URL.Path, manifestPrefix):
		raw, ok := f.manifests[strings.TrimPrefix(r.URL.Path, manifestPrefix)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", ocispec.MediaTypeImageManifest)
		w.Header().Set("Docker-Content-Digest", digest.FromBytes(raw).String())
		w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
		if r.Method != http.MethodHead {
			_, _ = w.Write(raw)
		}
	case strings.HasPrefix(r.URL.Path, blobPrefix):
		data, ok := f.blobs[strings.TrimPrefix(r.URL.Path, blobPrefix)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.blobGets.Add(1)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method != http.MethodHead {
			_, _ = w.Write(data)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serve starts an httptest server and returns its host:port.
func (f *fakeRegistry) serve(tb testing.TB) string {
	tb.Helper()
	server := httptest.NewServer(f)
	tb.Cleanup(server.Close)
	return strings.TrimPrefix(server.URL, "http://")
}

func newTestClient(tb testing.TB, opts ...Option) *Client {
	tb.Helper()
	allOpts := append([]Option{WithPlainHTTP(true), WithAnonymous()}, opts...)
	return New(tb.TempDir(), allOpts...)
}

func TestFetch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("fetches archive layer into store", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		archive := testutil.BuildZip(t, []testutil.ZipEntry{
			{Name: "hello.txt", Data: []byte("hello")},
		})
		layer := fake.addBlob(zipMediaType, archive)
		fake.addManifest(t, "v1", layer)
		host := fake.serve(t)

		c := newTestClient(t)
		path, err := c.Fetch(ctx, host+"/test/app:v1")
		require.NoError(t, err)

		assert.Equal(t, c.blobPath(layer.Digest), path)
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, archive, got)
	})

	t.Run("store entry short-circuits the download", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		layer := fake.addBlob(zipMediaType, []byte("archive bytes"))
		fake.addManifest(t, "v1", layer)
		host := fake.serve(t)

		c := newTestClient(t)
		first, err := c.Fetch(ctx, host+"/test/app:v1")
		require.NoError(t, err)
		require.Equal(t, int32(1), fake.blobGets.Load())

		second, err := c.Fetch(ctx, host+"/test/app:v1")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, int32(1), fake.blobGets.Load(), "blob must not be downloaded again")
	})

	t.Run("fetches by digest reference", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		layer := fake.addBlob(zipMediaType, []byte("archive bytes"))
		manifestDigest := fake.addManifest(t, "v1", layer)
		host := fake.serve(t)

		c := newTestClient(t)
		path, err := c.Fetch(ctx, host+"/test/app@"+manifestDigest.String())
		require.NoError(t, err)
		assert.Equal(t, c.blobPath(layer.Digest), path)
	})

	t.Run("selects layer by media type", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		sig := fake.addBlob("application/vnd.example.signature", []byte("sig"))
		layer := fake.addBlob(zipMediaType, []byte("archive bytes"))
		fake.addManifest(t, "v1", sig, layer)
		host := fake.serve(t)

		c := newTestClient(t, WithMediaType(zipMediaType))
		path, err := c.Fetch(ctx, host+"/test/app:v1")
		require.NoError(t, err)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte("archive bytes"), got)
	})

	t.Run("digest mismatch aborts the fetch", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		good := []byte("archive bytes A")
		bad := []byte("archive bytes B")
		layer := ocispec.Descriptor{
			MediaType: zipMediaType,
			Digest:    digest.FromBytes(good),
			Size:      int64(len(good)),
		}
		fake.blobs[layer.Digest.String()] = bad
		fake.addManifest(t, "v1", layer)
		host := fake.serve(t)

		c := newTestClient(t)
		_, err := c.Fetch(ctx, host+"/test/app:v1")
		assert.ErrorIs(t, err, ErrDigestMismatch)

		_, statErr := os.Stat(c.blobPath(layer.Digest))
		assert.ErrorIs(t, statErr, os.ErrNotExist)

		entries, readErr := os.ReadDir(filepath.Join(c.Dir(), "sha256"))
		require.NoError(t, readErr)
		assert.Empty(t, entries, "failed fetch must not leave temp files")
	})

	t.Run("unknown tag returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		layer := fake.addBlob(zipMediaType, []byte("archive bytes"))
		fake.addManifest(t, "v1", layer)
		host := fake.serve(t)

		c := newTestClient(t)
		_, err := c.Fetch(ctx, host+"/test/app:missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("manifest without layers returns ErrNoArchiveLayer", func(t *testing.T) {
		t.Parallel()
		fake := newFakeRegistry("test/app")
		fake.addManifest(t, "v1")
		host := fake.serve(t)

		c := newTestClient(t)
		_, err := c.Fetch(ctx, host+"/test/app:v1")
		assert.ErrorIs(t, err, ErrNoArchiveLayer)
	})

	t.Run("malformed reference returns ErrInvalidReference", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		_, err := c.Fetch(ctx, ":::invalid")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("reference without tag or digest is rejected", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		_, err := c.Fetch(ctx, "registry.example.com/test/app")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})

	t.Run("fetched archive resolves nested addresses", func(t *testing.T) {
		t.Parallel()
		inner := testutil.BuildZip(t, []testutil.ZipEntry{
			{Name: "com/example/data.bin", Data: []byte("nested payload")},
		})
		outer := testutil.BuildZip(t, []testutil.ZipEntry{
			{Name: "lib/inner.zip", Data: inner},
			{Name: "notes.txt", Data: []byte("outer notes")},
		})

		fake := newFakeRegistry("test/app")
		layer := fake.addBlob(zipMediaType, outer)
		fake.addManifest(t, "v1", layer)
		host := fake.serve(t)

		c := newTestClient(t)
		path, err := c.Fetch(ctx, host+"/test/app:v1")
		require.NoError(t, err)

		conn, root, err := zipfile.OpenAddress(ctx, path+"!/lib/inner.zip!/com/example/data.bin")
		require.NoError(t, err)
		defer root.Close()

		content, err := conn.Content(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("nested payload"), content)
	})
}
