package apk

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/sirupsen/logrus"
)

// SBOMDir is where packages carry their SBOM
const SBOMDir = "var/lib/db/sbom/"

// ErrNoSBOM is returned for packages without an embedded SBOM
var ErrNoSBOM = errors.New("package has no embedded SBOM")

// ExtractSBOM copies the SPDX document embedded in the package at apkPath to
// destPath. An .apk is several concatenated gzip members; the data member
// holds the SBOM.
func ExtractSBOM(apkPath, destPath string) error {
	f, err := os.Open(apkPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open package: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read package: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if header.Typeflag != tar.TypeReg || !isSBOM(name) {
			continue
		}

		logrus.Debugf("Found embedded SBOM %s in %s", name, apkPath)
		return writeSBOM(tr, destPath)
	}

	return fmt.Errorf("%s: %w", path.Base(apkPath), ErrNoSBOM)
}

func isSBOM(name string) bool {
	return strings.HasPrefix(name, SBOMDir) && strings.HasSuffix(name, ".spdx.json")
}

func writeSBOM(r io.Reader, destPath string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read embedded SBOM: %w", err)
	}
	return utils.WriteFile(destPath, data, 0644)
}
