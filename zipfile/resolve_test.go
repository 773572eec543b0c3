package zipfile

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestfs/nest"
	"github.com/nestfs/nest/internal/testutil"
)

func TestOpenAddress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	inner := testutil.BuildZip(t, []testutil.ZipEntry{
		{Name: "com/example/data.bin", Data: []byte("payload")},
	})
	path := writeArchive(t, "outer.zip", []testutil.ZipEntry{
		{Name: "lib/inner.zip", Data: inner},
		{Name: "top.txt", Data: []byte("top")},
	})

	t.Run("resolves a nested entry end to end", func(t *testing.T) {
		conn, root, err := OpenAddress(ctx, path+"!/lib/inner.zip!/com/example/data.bin")
		require.NoError(t, err)
		defer root.Close()

		rc, err := conn.InputStream(ctx)
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), got)

		assert.Equal(t, "com/example/data.bin", conn.EntryName())
		assert.Equal(t, root.Location()+"lib/inner.zip", conn.ContainerAddress())
	})

	t.Run("file URL addresses work", func(t *testing.T) {
		want, err := nest.NormalizeAddress(path)
		require.NoError(t, err)

		conn, root, err := OpenAddress(ctx, want+"!/top.txt")
		require.NoError(t, err)
		defer root.Close()

		assert.Equal(t, int64(3), conn.ContentLength(ctx))
	})

	t.Run("container-only address", func(t *testing.T) {
		conn, root, err := OpenAddress(ctx, path)
		require.NoError(t, err)
		defer root.Close()

		assert.Empty(t, conn.EntryName())
		got, err := conn.Container(ctx)
		require.NoError(t, err)
		assert.Same(t, root, got)
	})

	t.Run("permission names the backing file", func(t *testing.T) {
		conn, root, err := OpenAddress(ctx, path+"!/top.txt")
		require.NoError(t, err)
		defer root.Close()

		perm := conn.Permission()
		assert.Equal(t, path, perm.Path())
		assert.Equal(t, nest.ActionRead, perm.Actions())
	})
}

func TestOpenAddress_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("remote scheme is rejected", func(t *testing.T) {
		_, _, err := OpenAddress(ctx, "https://example.com/app.zip!/a.txt")
		require.ErrorIs(t, err, errors.ErrUnsupported)
	})

	t.Run("missing archive", func(t *testing.T) {
		_, _, err := OpenAddress(ctx, filepath.Join(t.TempDir(), "absent.zip")+"!/a.txt")
		require.Error(t, err)
	})

	t.Run("missing intermediate closes the root", func(t *testing.T) {
		path := writeArchive(t, "outer.zip", []testutil.ZipEntry{
			{Name: "top.txt", Data: []byte("top")},
		})
		_, _, err := OpenAddress(ctx, path+"!/lib/ghost.zip!/data.bin")
		require.ErrorIs(t, err, nest.ErrNotFound)

		var notFound *nest.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "lib/ghost.zip", notFound.Entry)
	})

	t.Run("empty address", func(t *testing.T) {
		_, _, err := OpenAddress(ctx, "")
		require.ErrorIs(t, err, nest.ErrMalformedAddress)
	})
}

func TestOpenAddress_EscapedEntryName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := writeArchive(t, "outer.zip", []testutil.ZipEntry{
		{Name: "release notes.txt", Data: []byte("v1.0")},
	})

	conn, root, err := OpenAddress(ctx, path+"!/release%20notes.txt")
	require.NoError(t, err)
	defer root.Close()

	assert.Equal(t, "release notes.txt", conn.EntryName())
	got, err := conn.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1.0"), got)
}

func TestFilePath(t *testing.T) {
	t.Parallel()

	wd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name  string
		outer string
		want  string
	}{
		{name: "plain absolute path", outer: "/srv/app.zip", want: "/srv/app.zip"},
		{name: "relative path", outer: "data/app.zip", want: filepath.Join(wd, "data", "app.zip")},
		{name: "file URL", outer: "file:///srv/app.zip", want: "/srv/app.zip"},
		{name: "escaped file URL", outer: "file:///srv/my%20app.zip", want: "/srv/my app.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filePath(tt.outer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
