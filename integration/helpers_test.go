//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"oras.land/oras-go/v2/registry/remote"
)

// archiveMediaType marks the pushed layer as a zip archive artifact.
const archiveMediaType = "application/vnd.example.archive.v1+zip"

// --- Registry Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error
)

// getRegistry returns the shared registry address, starting the container
// if needed. The container is shared across all tests for performance.
func getRegistry(tb testing.TB) string {
	tb.Helper()

	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}

	registryOnce.Do(func() {
		ctx := context.Background()
		registryAddr, registryErr = startRegistryContainer(ctx)
	})

	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}

	return registryAddr
}

// startRegistryContainer starts a registry:2 container and returns the
// host:port address.
func startRegistryContainer(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start registry container: %w", err)
	}

	// Container cleanup is handled by the testcontainers Reaper.

	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve registry host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5000/tcp")
	if err != nil {
		return "", fmt.Errorf("resolve registry port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Push Helper ---

// pushArchive pushes archive as a single-layer OCI artifact tagged under
// registryAddr/repo:tag and returns the full reference and the layer's
// digest.
func pushArchive(tb testing.TB, ctx context.Context, registryAddr, repo, tag string, archive []byte) (string, digest.Digest) {
	tb.Helper()

	ref := fmt.Sprintf("%s/%s:%s", registryAddr, repo, tag)
	r, err := remote.NewRepository(ref)
	require.NoError(tb, err, "new repository")
	r.PlainHTTP = true

	config := ocispec.DescriptorEmptyJSON
	require.NoError(tb, r.Push(ctx, config, bytes.NewReader(config.Data)), "push config")

	layer := ocispec.Descriptor{
		MediaType: archiveMediaType,
		Digest:    digest.FromBytes(archive),
		Size:      int64(len(archive)),
	}
	require.NoError(tb, r.Push(ctx, layer, bytes.NewReader(archive)), "push layer")

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    config,
		Layers:    []ocispec.Descriptor{layer},
	}
	raw, err := json.Marshal(manifest)
	require.NoError(tb, err, "marshal manifest")

	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    digest.FromBytes(raw),
		Size:      int64(len(raw)),
	}
	require.NoError(tb, r.PushReference(ctx, desc, bytes.NewReader(raw), tag), "push manifest")

	return ref, layer.Digest
}
