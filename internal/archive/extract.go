// Package archive detects and unpacks downloaded source archives.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// ErrUnknownFormat is returned for files that are not a supported archive
var ErrUnknownFormat = errors.New("unknown archive format")

// maxEntrySize bounds a single extracted file
var maxEntrySize int64 = 8 << 30

// Extract unpacks the archive at path into destDir and returns its format
func Extract(path, destDir string) (Format, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("failed to detect archive format: %w", err)
	}

	switch format {
	case FormatUnknown:
		return format, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnknownFormat)
	case FormatZip:
		return format, extractZip(path, destDir)
	}

	f, err := os.Open(path)
	if err != nil {
		return format, err
	}
	defer f.Close()

	tr, closeFn, err := openTar(f, format)
	if err != nil {
		return format, err
	}
	defer closeFn()

	return format, extractTar(tr, destDir)
}

// openTar wraps r in the decompressor for format and returns a tar reader.
// The returned function releases the decompressor.
func openTar(r io.Reader, format Format) (*tar.Reader, func(), error) {
	nop := func() {}

	switch format {
	case FormatTar:
		return tar.NewReader(r), nop, nil
	case FormatTarGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return tar.NewReader(gr), func() { gr.Close() }, nil
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return tar.NewReader(xr), nop, nil
	case FormatTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nop, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return tar.NewReader(zr), zr.Close, nil
	case FormatTarBzip2:
		return tar.NewReader(bzip2.NewReader(r)), nop, nil
	default:
		return nil, nop, fmt.Errorf("%s is not a tar format", format)
	}
}

// entryPath joins an archive member name onto destDir, rejecting names that
// would land outside of it.
func entryPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !utils.IsWithin(destDir, target) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return target, nil
}

type link struct {
	target   string
	linkname string
	hard     bool
}

func extractTar(tr *tar.Reader, destDir string) error {
	if err := utils.EnsureDir(destDir); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	// Links are created after every regular file exists so that no file is
	// written through a link planted earlier in the archive.
	var links []link

	for first := true; ; first = false {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A compressed single file is not an archive
			if first {
				return fmt.Errorf("no tar stream inside: %w", ErrUnknownFormat)
			}
			return fmt.Errorf("tar read error: %w", err)
		}

		target, err := entryPath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := checkNoSymlinks(destDir, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := writeFile(destDir, target, tr, header.FileInfo().Mode().Perm()|0600); err != nil {
				return err
			}

		case tar.TypeSymlink:
			links = append(links, link{target: target, linkname: header.Linkname})

		case tar.TypeLink:
			src, err := entryPath(destDir, header.Linkname)
			if err != nil {
				return err
			}
			links = append(links, link{target: target, linkname: src, hard: true})

		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// metadata only

		default:
			logrus.Debugf("Ignoring unsupported tar entry type %c: %s", header.Typeflag, header.Name)
		}
	}

	for _, l := range links {
		if err := checkNoSymlinks(destDir, filepath.Dir(l.target)); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(l.target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for link: %w", err)
		}
		_ = os.Remove(l.target)

		if l.hard {
			if err := os.Link(l.linkname, l.target); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", l.target, err)
			}
			continue
		}
		// Broken symlinks are common in source trees; warn and keep going
		if err := os.Symlink(l.linkname, l.target); err != nil {
			logrus.Warnf("Failed to create symlink %s -> %s: %v", l.target, l.linkname, err)
		}
	}

	return nil
}

func extractZip(path, destDir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer zr.Close()

	if err := utils.EnsureDir(destDir); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	for _, zf := range zr.File {
		target, err := entryPath(destDir, zf.Name)
		if err != nil {
			return err
		}

		if zf.FileInfo().IsDir() || strings.HasSuffix(zf.Name, "/") {
			if err := checkNoSymlinks(destDir, target); err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in zip: %w", zf.Name, err)
		}
		err = writeFile(destDir, target, rc, zf.Mode().Perm()|0600)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// writeFile writes r to target as a new regular file. Whatever a previous
// extraction left at target is replaced, never written through.
func writeFile(destDir, target string, r io.Reader, mode os.FileMode) error {
	if err := checkNoSymlinks(destDir, filepath.Dir(target)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	if info, err := os.Lstat(target); err == nil && !info.Mode().IsRegular() {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("failed to replace %s: %w", target, err)
		}
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if err == nil && n > maxEntrySize {
		err = fmt.Errorf("%s is larger than %d bytes", filepath.Base(target), maxEntrySize)
	}
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

// checkNoSymlinks fails when dir or any directory between destDir and dir is
// a symlink. Missing components are fine, they are created as directories.
func checkNoSymlinks(destDir, dir string) error {
	rel, err := filepath.Rel(destDir, dir)
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}

	current := destDir
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to extract through symlink %s", current)
		}
	}
	return nil
}
