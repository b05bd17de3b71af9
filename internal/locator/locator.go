// Package locator parses package URLs (purls) found in SBOM documents into
// typed references.
package locator

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/package-url/packageurl-go"
	"github.com/ralt/srcfetch/internal/models"
)

// Package URL types the dispatcher knows about
const (
	TypeGeneric = "generic"
	TypeGitHub  = "github"
	TypeApk     = "apk"
	TypeOCI     = "oci"
)

// Qualifier keys
const (
	QualifierVCSURL      = "vcs_url"
	QualifierDownloadURL = "download_url"
	QualifierChecksum    = "checksum"
	QualifierArch        = "arch"
)

// Qualifier is a single key/value pair, decoded
type Qualifier struct {
	Key   string
	Value string
}

// Checksum is one algorithm/digest pair of a checksum qualifier
type Checksum struct {
	Algorithm string
	Digest    string
}

// String returns the "<algorithm>:<digest>" form
func (c Checksum) String() string {
	return c.Algorithm + ":" + c.Digest
}

// Reference is the parsed form of a locator
type Reference struct {
	Type       string
	Namespace  string
	Name       string
	Version    string
	Qualifiers []Qualifier
	Subpath    string

	// Raw is the locator exactly as found in the SBOM
	Raw string

	checksums []Checksum
}

// Parse decodes a raw locator. Any error is a MalformedLocator FetchError.
func Parse(raw string) (*Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, models.Errorf(models.ErrMalformedLocator, raw, "empty locator")
	}

	purl, err := packageurl.FromString(escapeQualifierPlus(trimmed))
	if err != nil {
		return nil, models.NewError(models.ErrMalformedLocator, raw, err)
	}
	if purl.Type == "" || purl.Name == "" {
		return nil, models.Errorf(models.ErrMalformedLocator, raw, "locator needs a type and a name")
	}

	ref := &Reference{
		Type:      strings.ToLower(purl.Type),
		Namespace: purl.Namespace,
		Name:      purl.Name,
		Version:   purl.Version,
		Subpath:   purl.Subpath,
		Raw:       raw,
	}
	for _, q := range purl.Qualifiers {
		ref.Qualifiers = append(ref.Qualifiers, Qualifier{Key: strings.ToLower(q.Key), Value: q.Value})
	}

	if err := ref.validate(); err != nil {
		return nil, models.NewError(models.ErrMalformedLocator, raw, err)
	}
	return ref, nil
}

// escapeQualifierPlus encodes literal '+' in the qualifier section so that
// values like "git+https://..." do not decode to a space.
func escapeQualifierPlus(raw string) string {
	start := strings.IndexByte(raw, '?')
	if start < 0 {
		return raw
	}
	end := len(raw)
	if i := strings.IndexByte(raw[start:], '#'); i >= 0 {
		end = start + i
	}
	return raw[:start] + strings.ReplaceAll(raw[start:end], "+", "%2B") + raw[end:]
}

// validate checks the compound qualifiers and caches the split checksums
func (r *Reference) validate() error {
	if v, ok := r.lookup(QualifierVCSURL); ok && strings.TrimSpace(v) == "" {
		return fmt.Errorf("empty %s qualifier", QualifierVCSURL)
	}

	if v, ok := r.lookup(QualifierDownloadURL); ok {
		u, err := url.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", QualifierDownloadURL, err)
		}
		switch u.Scheme {
		case "http", "https", "ftp":
		default:
			return fmt.Errorf("%s must be an absolute http(s) or ftp URL: %q", QualifierDownloadURL, v)
		}
		if u.Host == "" {
			return fmt.Errorf("%s has no host: %q", QualifierDownloadURL, v)
		}
	}

	if v, ok := r.lookup(QualifierChecksum); ok {
		sums, err := ParseChecksums(v)
		if err != nil {
			return err
		}
		r.checksums = sums
	}
	return nil
}

// ParseChecksums splits a checksum qualifier value of the form
// "<algorithm>:<hex>[,<algorithm>:<hex>...]".
func ParseChecksums(value string) ([]Checksum, error) {
	var sums []Checksum
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		algo, digest, ok := strings.Cut(part, ":")
		if !ok || algo == "" || digest == "" {
			return nil, fmt.Errorf("checksum %q is not of the form <algorithm>:<digest>", part)
		}
		digest = strings.ToLower(digest)
		if _, err := hex.DecodeString(digest); err != nil {
			return nil, fmt.Errorf("checksum %q has a non-hex digest", part)
		}
		sums = append(sums, Checksum{Algorithm: strings.ToLower(algo), Digest: digest})
	}
	if len(sums) == 0 {
		return nil, fmt.Errorf("empty checksum qualifier")
	}
	return sums, nil
}

func (r *Reference) lookup(key string) (string, bool) {
	for _, q := range r.Qualifiers {
		if q.Key == key {
			return q.Value, true
		}
	}
	return "", false
}

// Qualifier returns the decoded value of a qualifier, or "" when absent
func (r *Reference) Qualifier(key string) string {
	v, _ := r.lookup(key)
	return v
}

// HasQualifier reports whether the qualifier is present
func (r *Reference) HasQualifier(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// VCSURL returns the vcs_url qualifier
func (r *Reference) VCSURL() string {
	return r.Qualifier(QualifierVCSURL)
}

// DownloadURL returns the download_url qualifier
func (r *Reference) DownloadURL() string {
	return r.Qualifier(QualifierDownloadURL)
}

// Arch returns the arch qualifier
func (r *Reference) Arch() string {
	return r.Qualifier(QualifierArch)
}

// Checksums returns the split checksum qualifier, in locator order
func (r *Reference) Checksums() []Checksum {
	out := make([]Checksum, len(r.checksums))
	copy(out, r.checksums)
	return out
}

// String re-encodes the reference as a canonical purl
func (r *Reference) String() string {
	var qs packageurl.Qualifiers
	for _, q := range r.Qualifiers {
		qs = append(qs, packageurl.Qualifier{Key: q.Key, Value: q.Value})
	}
	return packageurl.NewPackageURL(r.Type, r.Namespace, r.Name, r.Version, qs, r.Subpath).ToString()
}
