package sbom

// CycloneDX is read into these structs; SPDX goes through tools-golang.

// CycloneDXComponent is a CycloneDX component; components nest
type CycloneDXComponent struct {
	Type       string               `json:"type"`
	Name       string               `json:"name"`
	Version    string               `json:"version"`
	Purl       string               `json:"purl,omitempty"`
	Components []CycloneDXComponent `json:"components,omitempty"`
}

// CycloneDXMetadata carries the subject component of the document
type CycloneDXMetadata struct {
	Component *CycloneDXComponent `json:"component,omitempty"`
}

// CycloneDX is a CycloneDX JSON document
type CycloneDX struct {
	BomFormat   string               `json:"bomFormat"`
	SpecVersion string               `json:"specVersion"`
	Metadata    CycloneDXMetadata    `json:"metadata"`
	Components  []CycloneDXComponent `json:"components"`
}
