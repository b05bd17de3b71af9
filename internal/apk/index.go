// Package apk reads APK repository indexes and the SBOMs embedded in packages.
package apk

import (
	"archive/tar"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apkversion "github.com/knqyf263/go-apk-version"
	"github.com/klauspost/compress/gzip"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/signature"
	"github.com/sirupsen/logrus"
)

// IndexFile is the name of the index in every architecture directory
const IndexFile = "APKINDEX.tar.gz"

// Index is a parsed APKINDEX
type Index struct {
	Packages []models.Package
}

// LoadIndex reads an APKINDEX.tar.gz from disk. When verifier is not nil the
// index signature must verify before anything is parsed.
func LoadIndex(path string, verifier signature.IndexVerifier) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	if verifier != nil {
		if err := verifier.VerifyIndex(data); err != nil {
			return nil, err
		}
		logrus.Debugf("Verified index signature of %s", path)
	}

	return ParseIndex(bytes.NewReader(data))
}

// ParseIndex parses an APKINDEX.tar.gz stream. Signature and control
// segments are separate gzip members, so the stream is read as one.
func ParseIndex(r io.Reader) (*Index, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read index: %w", err)
		}

		if strings.TrimPrefix(header.Name, "./") == "APKINDEX" {
			packages, err := parseAPKINDEX(tr)
			if err != nil {
				return nil, err
			}
			return &Index{Packages: packages}, nil
		}
	}

	return nil, fmt.Errorf("APKINDEX not found in index archive")
}

// parseAPKINDEX parses Alpine's letter:value format, one blank line between entries
func parseAPKINDEX(r io.Reader) ([]models.Package, error) {
	var packages []models.Package
	var pkg models.Package

	flush := func() {
		if pkg.Name != "" {
			packages = append(packages, pkg)
		}
		pkg = models.Package{}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok || len(key) != 1 {
			continue
		}

		switch key {
		case "C":
			pkg.Checksum = value
		case "P":
			pkg.Name = value
		case "V":
			pkg.Version = value
		case "A":
			pkg.Architecture = value
		case "S":
			if size, err := strconv.ParseInt(value, 10, 64); err == nil {
				pkg.Size = size
			}
		case "T":
			pkg.Description = value
		case "U":
			pkg.Homepage = value
		case "L":
			pkg.License = value
		case "o":
			pkg.Origin = value
		case "c":
			pkg.Commit = value
		case "D":
			pkg.Dependencies = strings.Fields(value)
		}
	}
	flush()

	return packages, scanner.Err()
}

// Latest returns the entry named exactly name with the highest version
func (idx *Index) Latest(name string) (models.Package, bool) {
	var best models.Package
	found := false

	for _, pkg := range idx.Packages {
		if pkg.Name != name {
			continue
		}
		if !found || newerVersion(pkg.Version, best.Version) {
			best = pkg
			found = true
		}
	}
	return best, found
}

// newerVersion orders by APK version rules, falling back to a plain string
// comparison when either side does not parse
func newerVersion(a, b string) bool {
	va, errA := apkversion.NewVersion(a)
	vb, errB := apkversion.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return va.GreaterThan(vb)
}
