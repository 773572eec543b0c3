package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"testing"

	"github.com/containerd/stargz-snapshotter/estargz"
	"github.com/klauspost/compress/zstd"
)

// ZipEntry holds data for building fixture archive entries.
type ZipEntry struct {
	Name   string
	Data   []byte
	Method uint16 // zip.Store unless set
	Mode   fs.FileMode
}

// BuildZip assembles an in-memory zip archive from entries, preserving
// their order. Nest archives by building the inner one first and passing
// its bytes as an entry's Data.
func BuildZip(tb testing.TB, entries []ZipEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.Name,
			Method:   e.Method,
			Modified: fixtureTime,
		}
		if e.Mode != 0 {
			hdr.SetMode(e.Mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			tb.Fatalf("create entry %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			tb.Fatalf("write entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

// TarEntry holds data for building fixture tar archives.
type TarEntry struct {
	Name string
	Data []byte
	Mode int64 // 0o644 unless set
}

// BuildTar assembles an in-memory tar archive from entries, preserving
// their order.
func BuildTar(tb testing.TB, entries []TarEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     e.Name,
			Size:     int64(len(e.Data)),
			Mode:     mode,
			ModTime:  fixtureTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatalf("write header %s: %v", e.Name, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			tb.Fatalf("write entry %s: %v", e.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatalf("close archive: %v", err)
	}
	return buf.Bytes()
}

// BuildEStargz converts a tar fixture into an eStargz archive.
func BuildEStargz(tb testing.TB, entries []TarEntry) []byte {
	tb.Helper()

	tarData := BuildTar(tb, entries)
	blob, err := estargz.Build(io.NewSectionReader(bytes.NewReader(tarData), 0, int64(len(tarData))))
	if err != nil {
		tb.Fatalf("build estargz: %v", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, blob); err != nil {
		tb.Fatalf("read estargz: %v", err)
	}
	if err := blob.Close(); err != nil {
		tb.Fatalf("close estargz: %v", err)
	}
	return buf.Bytes()
}
