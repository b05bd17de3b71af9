// Package sbom reads SPDX and CycloneDX documents and enumerates the package
// locators they carry.
package sbom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	spdxjson "github.com/spdx/tools-golang/json"
)

// Format is the document format of an SBOM
type Format string

const (
	FormatSPDX      Format = "spdx"
	FormatCycloneDX Format = "cyclonedx"
)

// purlReferenceType is the SPDX externalRef type carrying a package URL
const purlReferenceType = "purl"

// Package is one package of a document with its locators
type Package struct {
	Name     string
	Version  string
	Locators []string
}

// Document is a read-only view of an SBOM in document order
type Document struct {
	Format   Format
	Name     string
	Packages []Package
}

// Load reads and parses the SBOM at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SBOM: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse detects the format of data and parses it
func Parse(data []byte) (*Document, error) {
	var probe struct {
		SPDXVersion string `json:"spdxVersion"`
		BomFormat   string `json:"bomFormat"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode SBOM: %w", err)
	}

	switch {
	case strings.HasPrefix(probe.SPDXVersion, "SPDX-"):
		return parseSPDX(data)
	case strings.EqualFold(probe.BomFormat, "CycloneDX"):
		return parseCycloneDX(data)
	default:
		return nil, fmt.Errorf("unrecognised SBOM format")
	}
}

func parseSPDX(data []byte) (*Document, error) {
	doc, err := spdxjson.Read(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode SPDX document: %w", err)
	}

	result := &Document{Format: FormatSPDX, Name: doc.DocumentName}
	for _, p := range doc.Packages {
		if p == nil {
			continue
		}
		pkg := Package{Name: p.PackageName, Version: p.PackageVersion}
		for _, ref := range p.PackageExternalReferences {
			if ref != nil && strings.EqualFold(ref.RefType, purlReferenceType) && ref.Locator != "" {
				pkg.Locators = append(pkg.Locators, ref.Locator)
			}
		}
		result.Packages = append(result.Packages, pkg)
	}
	return result, nil
}

func parseCycloneDX(data []byte) (*Document, error) {
	var doc CycloneDX
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode CycloneDX document: %w", err)
	}

	result := &Document{Format: FormatCycloneDX}
	if doc.Metadata.Component != nil {
		result.Name = doc.Metadata.Component.Name
	}
	appendComponents(&result.Packages, doc.Components)
	return result, nil
}

// appendComponents flattens nested components depth first, parents first
func appendComponents(dst *[]Package, components []CycloneDXComponent) {
	for _, c := range components {
		pkg := Package{Name: c.Name, Version: c.Version}
		if c.Purl != "" {
			pkg.Locators = []string{c.Purl}
		}
		*dst = append(*dst, pkg)
		appendComponents(dst, c.Components)
	}
}

// Locators returns every locator of the document in document order
func (d *Document) Locators() []string {
	var locators []string
	for _, p := range d.Packages {
		locators = append(locators, p.Locators...)
	}
	return locators
}
