package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// Format represents the container/compression of a downloaded archive
type Format int

const (
	FormatUnknown Format = iota
	FormatTar
	FormatTarGzip
	FormatTarXz
	FormatTarZstd
	FormatTarBzip2
	FormatZip
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatTar:
		return "tar"
	case FormatTarGzip:
		return "tar.gz"
	case FormatTarXz:
		return "tar.xz"
	case FormatTarZstd:
		return "tar.zst"
	case FormatTarBzip2:
		return "tar.bz2"
	case FormatZip:
		return "zip"
	default:
		return "unknown"
	}
}

// Magic bytes for archive detection
var (
	gzipMagic  = []byte{0x1F, 0x8B}
	xzMagic    = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
	zstdMagic  = []byte{0x28, 0xB5, 0x2F, 0xFD}
	bzip2Magic = []byte("BZh")
	zipMagic   = []byte{'P', 'K', 0x03, 0x04}

	// "ustar" at offset 257 of a tar header block
	tarMagic  = []byte("ustar")
	tarOffset = 257
)

// DetectFormat determines the archive format based on magic bytes and file extension
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()

	// Read first 512 bytes for magic byte detection
	header := make([]byte, 512)
	n, err := f.Read(header)
	if err != nil && n == 0 {
		return FormatUnknown, err
	}
	header = header[:n]

	return detect(header, filepath.Base(path)), nil
}

func detect(header []byte, basename string) Format {
	name := strings.ToLower(basename)

	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return FormatTarGzip
	case bytes.HasPrefix(header, xzMagic):
		return FormatTarXz
	case bytes.HasPrefix(header, zstdMagic):
		return FormatTarZstd
	case bytes.HasPrefix(header, bzip2Magic):
		return FormatTarBzip2
	case bytes.HasPrefix(header, zipMagic):
		return FormatZip
	case len(header) >= tarOffset+len(tarMagic) && bytes.Equal(header[tarOffset:tarOffset+len(tarMagic)], tarMagic):
		return FormatTar
	}

	// Fall back to the file extension
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"), strings.HasSuffix(name, ".apk"):
		return FormatTarGzip
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZstd
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return FormatTarBzip2
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	}
	return FormatUnknown
}
