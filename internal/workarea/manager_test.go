package workarea

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
)

func mustParse(t *testing.T, raw string) *locator.Reference {
	t.Helper()
	ref, err := locator.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", raw, err)
	}
	return ref
}

func TestPath(t *testing.T) {
	m := New("/work")

	ref := mustParse(t, "pkg:github/foo/bar@abc123#build")
	got := m.Path(ref)
	want := filepath.Join("/work", "github", "foo", "bar", "abc123-"+Fingerprint(ref.Raw))
	if got != want {
		t.Errorf("Path() = %s, want %s", got, want)
	}

	// Stable across calls and parses
	if again := m.Path(mustParse(t, "pkg:github/foo/bar@abc123#build")); again != got {
		t.Errorf("Path() not stable: %s vs %s", again, got)
	}
}

func TestPathWithoutNamespaceOrVersion(t *testing.T) {
	m := New("/work")
	ref := mustParse(t, "pkg:generic/zlib?download_url=https%3A%2F%2Fzlib.net%2Fzlib-1.3.tar.gz")

	got := m.Path(ref)
	if !strings.HasPrefix(got, filepath.Join("/work", "generic", "_", "zlib", "_-")) {
		t.Errorf("Path() = %s", got)
	}
}

func TestPathDistinguishesQualifiers(t *testing.T) {
	m := New("/work")
	a := m.Path(mustParse(t, "pkg:generic/zlib@1.3?download_url=https%3A%2F%2Fa.example%2Fz.tar.gz"))
	b := m.Path(mustParse(t, "pkg:generic/zlib@1.3?download_url=https%3A%2F%2Fb.example%2Fz.tar.gz"))
	if a == b {
		t.Errorf("different locators share %s", a)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("pkg:github/foo/bar@abc123")
	if len(fp) != 16 {
		t.Errorf("Fingerprint() = %q, want 16 hex digits", fp)
	}
	if fp == Fingerprint("pkg:github/foo/bar@abc124") {
		t.Error("distinct inputs gave the same fingerprint")
	}
}

func TestDerivedPaths(t *testing.T) {
	m := New("/work/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"sbom", m.SBOMPath("zlib", "1.3-r0"), "/work/sbom/zlib-1.3-r0.spdx.json"},
		{"root sbom", m.RootSBOMPath("cgr.dev_chainguard_static"), "/work/sbom/cgr.dev_chainguard_static.spdx.json"},
		{"artifact", m.ArtifactPath(models.ArchX86_64, "zlib-1.3-r0.apk"), "/work/apk/x86_64/zlib-1.3-r0.apk"},
		{"index", m.IndexPath(models.ArchAarch64), "/work/apk/aarch64/APKINDEX.tar.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != filepath.FromSlash(tt.want) {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"":          "_",
		".":         "_",
		"..":        "_",
		"a/b":       "a_b",
		`a\b`:       "a_b",
		"zlib-1.3":  "zlib-1.3",
		"../../etc": ".._.._etc",
	}
	for in, want := range tests {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
