package zipfile

import (
	"archive/zip"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// registerDecompressors swaps the standard library's inflate for the
// faster klauspost implementation and adds zstd (zip method 93) support.
func registerDecompressors(zr *zip.Reader) {
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
}
