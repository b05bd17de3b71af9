// Package workarea maps references to stable locations under the work directory.
package workarea

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dchest/siphash"
	"github.com/ralt/srcfetch/internal/apk"
	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
)

// Fixed keys keep fingerprints stable across runs and hosts
const (
	fingerprintKey0 uint64 = 0x736f757263656665
	fingerprintKey1 uint64 = 0x776f726b61726561
)

const (
	sbomDir     = "sbom"
	artifactDir = "apk"
	emptySlot   = "_"
)

// Manager computes destination paths below a root directory
type Manager struct {
	root string
}

// New creates a Manager rooted at root
func New(root string) *Manager {
	return &Manager{root: filepath.Clean(root)}
}

// Root returns the work directory
func (m *Manager) Root() string {
	return m.root
}

// Fingerprint returns the hex SipHash of a raw locator
func Fingerprint(raw string) string {
	return fmt.Sprintf("%016x", siphash.Hash(fingerprintKey0, fingerprintKey1, []byte(raw)))
}

// Path returns <root>/<type>/<namespace>/<name>/<version|_>-<fingerprint>.
// The fingerprint covers the raw locator, so two locators that differ only
// in qualifiers never share a directory.
func (m *Manager) Path(ref *locator.Reference) string {
	version := ref.Version
	if version == "" {
		version = emptySlot
	}
	return filepath.Join(m.root,
		sanitize(ref.Type),
		sanitize(ref.Namespace),
		sanitize(ref.Name),
		sanitize(version)+"-"+Fingerprint(ref.Raw),
	)
}

// SBOMPath returns where the embedded SBOM of a package is stored. An empty
// version means name is already the full package stem.
func (m *Manager) SBOMPath(name, version string) string {
	stem := name
	if version != "" {
		stem += "-" + version
	}
	return filepath.Join(m.root, sbomDir, sanitize(stem)+".spdx.json")
}

// RootSBOMPath returns where a top-level SBOM named name is stored
func (m *Manager) RootSBOMPath(name string) string {
	return m.SBOMPath(name, "")
}

// ArtifactPath returns where a downloaded package file is stored
func (m *Manager) ArtifactPath(arch models.Arch, file string) string {
	return filepath.Join(m.root, artifactDir, sanitize(arch.String()), sanitize(file))
}

// IndexPath returns where the repository index for arch is cached
func (m *Manager) IndexPath(arch models.Arch) string {
	return m.ArtifactPath(arch, apk.IndexFile)
}

// sanitize makes s safe to use as a single path segment
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, s)

	switch s {
	case "", ".", "..":
		return emptySlot
	}
	return s
}
