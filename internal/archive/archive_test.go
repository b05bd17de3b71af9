package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func buildTar(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		header := &tar.Header{
			Name:     e.name,
			Mode:     0644,
			Size:     int64(len(e.body)),
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if typeflag != tar.TypeReg {
			header.Size = 0
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("Failed to write tar header: %v", err)
		}
		if typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Failed to write tar body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar: %v", err)
	}
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write(data)
	if err := gw.Close(); err != nil {
		t.Fatalf("Failed to gzip: %v", err)
	}
	return buf.Bytes()
}

func xzBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("Failed to create xz writer: %v", err)
	}
	xw.Write(data)
	if err := xw.Close(); err != nil {
		t.Fatalf("Failed to xz: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("Failed to create zstd writer: %v", err)
	}
	zw.Write(data)
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to zstd: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTarFormats(t *testing.T) {
	tarData := buildTar(t, []entry{
		{name: "zlib-1.3/", typeflag: tar.TypeDir},
		{name: "zlib-1.3/README", body: "zlib readme"},
		{name: "zlib-1.3/src/deflate.c", body: "int main() {}"},
		{name: "zlib-1.3/LICENSE.link", typeflag: tar.TypeSymlink, linkname: "README"},
	})

	tests := []struct {
		filename string
		data     []byte
		format   Format
	}{
		{"zlib-1.3.tar", tarData, FormatTar},
		{"zlib-1.3.tar.gz", gzipBytes(t, tarData), FormatTarGzip},
		{"zlib-1.3.tar.xz", xzBytes(t, tarData), FormatTarXz},
		{"zlib-1.3.tar.zst", zstdBytes(t, tarData), FormatTarZstd},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			tmpDir := t.TempDir()
			path := filepath.Join(tmpDir, tt.filename)
			if err := os.WriteFile(path, tt.data, 0644); err != nil {
				t.Fatalf("Failed to write archive: %v", err)
			}

			format, err := Extract(path, tmpDir)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if format != tt.format {
				t.Errorf("Extract() format = %s, want %s", format, tt.format)
			}

			got, err := os.ReadFile(filepath.Join(tmpDir, "zlib-1.3", "src", "deflate.c"))
			if err != nil {
				t.Fatalf("extracted file missing: %v", err)
			}
			if string(got) != "int main() {}" {
				t.Errorf("extracted content = %q", got)
			}

			linked, err := os.ReadFile(filepath.Join(tmpDir, "zlib-1.3", "LICENSE.link"))
			if err != nil {
				t.Fatalf("symlink not created: %v", err)
			}
			if string(linked) != "zlib readme" {
				t.Errorf("symlink content = %q", linked)
			}
		})
	}
}

func TestExtractZip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "src.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("src/main.go")
	if err != nil {
		t.Fatalf("Failed to create zip entry: %v", err)
	}
	w.Write([]byte("package main"))
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to close zip: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write zip: %v", err)
	}

	format, err := Extract(path, filepath.Join(tmpDir, "out"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if format != FormatZip {
		t.Errorf("format = %s, want zip", format)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "out", "src", "main.go")); err != nil {
		t.Errorf("zip entry not extracted: %v", err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "evil.tar.gz")
	data := gzipBytes(t, buildTar(t, []entry{{name: "../../escape.txt", body: "pwned"}}))
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}

	destDir := filepath.Join(tmpDir, "dest")
	if _, err := Extract(path, destDir); err == nil {
		t.Fatal("Extract() should reject entries outside the destination")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("traversal entry was written")
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := Extract(path, tmpDir)
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Extract() error = %v, want ErrUnknownFormat", err)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		header []byte
		name   string
		want   Format
	}{
		{[]byte{0x1F, 0x8B, 0x08}, "foo.bin", FormatTarGzip},
		{[]byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}, "foo.bin", FormatTarXz},
		{[]byte{0x28, 0xB5, 0x2F, 0xFD}, "foo.bin", FormatTarZstd},
		{[]byte("BZh91AY"), "foo.bin", FormatTarBzip2},
		{[]byte{'P', 'K', 0x03, 0x04}, "foo.bin", FormatZip},
		{[]byte("short"), "foo.tar.bz2", FormatTarBzip2},
		{[]byte("short"), "foo.tgz", FormatTarGzip},
		{[]byte("short"), "foo.txt", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.want.String(), func(t *testing.T) {
			if got := detect(tt.header, tt.name); got != tt.want {
				t.Errorf("detect(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestReextractDoesNotFollowSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	outside := filepath.Join(tmpDir, "outside.txt")
	if err := os.WriteFile(outside, []byte("original"), 0644); err != nil {
		t.Fatalf("Failed to write outside file: %v", err)
	}

	path := filepath.Join(tmpDir, "twice.tar")
	data := buildTar(t, []entry{
		{name: "x", body: "payload"},
		{name: "x", typeflag: tar.TypeSymlink, linkname: outside},
	})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}

	destDir := filepath.Join(tmpDir, "dest")
	for i := 0; i < 2; i++ {
		if _, err := Extract(path, destDir); err != nil {
			t.Fatalf("Extract() run %d error = %v", i+1, err)
		}
	}

	got, err := os.ReadFile(outside)
	if err != nil {
		t.Fatalf("Failed to read outside file: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("file outside the destination = %q, want it untouched", got)
	}
}

func TestExtractRejectsSymlinkedParent(t *testing.T) {
	tmpDir := t.TempDir()
	outsideDir := filepath.Join(tmpDir, "outside")
	if err := os.MkdirAll(outsideDir, 0755); err != nil {
		t.Fatalf("Failed to create outside dir: %v", err)
	}

	destDir := filepath.Join(tmpDir, "dest")
	first := filepath.Join(tmpDir, "first.tar")
	if err := os.WriteFile(first, buildTar(t, []entry{
		{name: "sub", typeflag: tar.TypeSymlink, linkname: outsideDir},
	}), 0644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}
	if _, err := Extract(first, destDir); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	second := filepath.Join(tmpDir, "second.tar")
	if err := os.WriteFile(second, buildTar(t, []entry{
		{name: "sub/evil.txt", body: "pwned"},
	}), 0644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}
	if _, err := Extract(second, destDir); err == nil {
		t.Error("Extract() should refuse to write through a symlinked directory")
	}
	if _, err := os.Stat(filepath.Join(outsideDir, "evil.txt")); !os.IsNotExist(err) {
		t.Error("entry was written outside the destination")
	}
}

func TestExtractCompressedSingleFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "fix-build.patch.gz")
	data := gzipBytes(t, []byte("--- a/Makefile\n+++ b/Makefile\n"))
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := Extract(path, tmpDir)
	if !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Extract() error = %v, want ErrUnknownFormat", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("compressed file should stay in place: %v", err)
	}
}

func TestExtractOversizedEntry(t *testing.T) {
	saved := maxEntrySize
	maxEntrySize = 8
	defer func() { maxEntrySize = saved }()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "big.tar")
	data := buildTar(t, []entry{{name: "big.bin", body: "0123456789abcdef"}})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}

	if _, err := Extract(path, filepath.Join(tmpDir, "out")); err == nil {
		t.Error("Extract() should fail instead of truncating an oversized entry")
	}
}
