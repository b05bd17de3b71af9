package resolver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
)

type memRecorder struct {
	actions []models.Action
}

func (r *memRecorder) Record(a models.Action) {
	r.actions = append(r.actions, a)
}

type fakeFetcher struct {
	fetched []string
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref *locator.Reference) error {
	f.fetched = append(f.fetched, ref.Raw)
	return f.err
}

// fakePackages resolves specs to fixed SBOM paths
type fakePackages struct {
	paths    map[string]string
	errs     map[string]error
	resolved []string
}

func (f *fakePackages) Resolve(ctx context.Context, spec, activeSBOM string) (string, error) {
	f.resolved = append(f.resolved, spec)
	if err, ok := f.errs[spec]; ok {
		return "", err
	}
	return f.paths[spec], nil
}

func writeSBOM(t *testing.T, path string, locators ...string) {
	t.Helper()
	type ref struct {
		ReferenceCategory string `json:"referenceCategory"`
		ReferenceType     string `json:"referenceType"`
		ReferenceLocator  string `json:"referenceLocator"`
	}
	type pkg struct {
		SPDXID       string `json:"SPDXID"`
		Name         string `json:"name"`
		ExternalRefs []ref  `json:"externalRefs"`
	}
	doc := struct {
		SPDXVersion string `json:"spdxVersion"`
		Name        string `json:"name"`
		Packages    []pkg  `json:"packages"`
	}{SPDXVersion: "SPDX-2.3", Name: filepath.Base(path)}

	for i, l := range locators {
		doc.Packages = append(doc.Packages, pkg{
			SPDXID:       "SPDXRef-Package-" + string(rune('a'+i)),
			Name:         l,
			ExternalRefs: []ref{{"PACKAGE-MANAGER", "purl", l}},
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal SBOM: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write SBOM: %v", err)
	}
}

func testContext() models.ResolutionContext {
	return models.ResolutionContext{
		Arch:            models.ArchX86_64,
		WorkDir:         "/work",
		Repository:      "https://packages.example.com/os",
		Distributions:   []string{"wolfi", "chainguard"},
		PrivateSuffixes: []string{"-private", "-enterprise"},
	}
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		privileged bool
		want       Strategy
	}{
		{"vcs_url on any type", "pkg:npm/left-pad@1.0?vcs_url=git%2Bhttps%3A%2F%2Fgithub.com%2Fa%2Fb%40abc", false, StrategyVCS},
		{"generic download", "pkg:generic/zlib@1.3?download_url=https%3A%2F%2Fzlib.net%2Fzlib-1.3.tar.gz", false, StrategyDownload},
		{"generic without url", "pkg:generic/zlib@1.3", false, StrategySkip},
		{"github", "pkg:github/foo/bar@abc123", false, StrategyVCS},
		{"github private", "pkg:github/foo/bar-private@abc123", false, StrategySkip},
		{"github private subpath", "pkg:github/foo/bar@abc123#tools-enterprise", false, StrategySkip},
		{"github private privileged", "pkg:github/foo/bar-private@abc123", true, StrategyVCS},
		{"distribution apk", "pkg:apk/wolfi/zlib@1.3-r0", false, StrategyPackageSBOM},
		{"distribution apk mixed case", "pkg:apk/Chainguard/zlib@1.3-r0", false, StrategyPackageSBOM},
		{"foreign apk", "pkg:apk/alpine/zlib@1.3-r0", false, StrategySkip},
		{"oci", "pkg:oci/static@latest", false, StrategySkip},
		{"oci privileged", "pkg:oci/static@latest", true, StrategyUnimplemented},
		{"unknown type", "pkg:rpm/fedora/zlib@1.3", false, StrategySkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := testContext()
			rctx.Privileged = tt.privileged
			ref, err := locator.Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got, reason := NewDispatcher(rctx).Dispatch(ref); got != tt.want {
				t.Errorf("Dispatch(%s) = %s (%s), want %s", tt.raw, got, reason, tt.want)
			}
		})
	}
}

func TestWalkDispatchesInOrder(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "image.spdx.json")
	writeSBOM(t, root,
		"pkg:github/foo/bar@abc123",
		"not a locator",
		"pkg:generic/zlib@1.3?download_url=https%3A%2F%2Fzlib.net%2Fzlib-1.3.tar.gz",
		"pkg:npm/left-pad@1.0",
		"pkg:github/foo/baz@def456",
	)

	vcs, download := &fakeFetcher{}, &fakeFetcher{}
	rec := &memRecorder{}
	r := New(testContext(), vcs, download, &fakePackages{}, rec)

	if err := r.ResolveSBOM(context.Background(), root); err != nil {
		t.Fatalf("ResolveSBOM() error = %v", err)
	}

	if len(vcs.fetched) != 2 || vcs.fetched[0] != "pkg:github/foo/bar@abc123" || vcs.fetched[1] != "pkg:github/foo/baz@def456" {
		t.Errorf("vcs fetched %v", vcs.fetched)
	}
	if len(download.fetched) != 1 {
		t.Errorf("download fetched %v", download.fetched)
	}

	skips := 0
	for _, a := range rec.actions {
		if a.Kind == models.ActionSkip {
			skips++
		}
	}
	if skips != 2 {
		t.Errorf("recorded %d skips, want malformed and unhandled: %+v", skips, rec.actions)
	}
}

func TestSelfReferentialSBOM(t *testing.T) {
	dir := t.TempDir()
	self := filepath.Join(dir, "sbom", "zlib-1.3-r0.spdx.json")
	writeSBOM(t, self, "pkg:apk/wolfi/zlib@1.3-r0")

	vcs, download := &fakeFetcher{}, &fakeFetcher{}
	packages := &fakePackages{paths: map[string]string{"pkg:apk/wolfi/zlib@1.3-r0": self}}
	rec := &memRecorder{}

	if err := New(testContext(), vcs, download, packages, rec).ResolveSBOM(context.Background(), self); err != nil {
		t.Fatalf("ResolveSBOM() error = %v", err)
	}
	if len(vcs.fetched)+len(download.fetched) != 0 || len(rec.actions) != 0 {
		t.Errorf("self reference produced fetches: vcs=%v download=%v actions=%+v", vcs.fetched, download.fetched, rec.actions)
	}
}

func TestIndirectCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "sbom", "a-1-r0.spdx.json")
	b := filepath.Join(dir, "sbom", "b-1-r0.spdx.json")
	writeSBOM(t, a, "pkg:apk/wolfi/b@1-r0", "pkg:github/org/a-src@111")
	writeSBOM(t, b, "pkg:apk/wolfi/a@1-r0", "pkg:github/org/b-src@222")

	vcs := &fakeFetcher{}
	packages := &fakePackages{paths: map[string]string{
		"pkg:apk/wolfi/a@1-r0": a,
		"pkg:apk/wolfi/b@1-r0": b,
	}}

	if err := New(testContext(), vcs, &fakeFetcher{}, packages, &memRecorder{}).ResolveSBOM(context.Background(), a); err != nil {
		t.Fatalf("ResolveSBOM() error = %v", err)
	}

	want := []string{"pkg:github/org/b-src@222", "pkg:github/org/a-src@111"}
	if len(vcs.fetched) != 2 || vcs.fetched[0] != want[0] || vcs.fetched[1] != want[1] {
		t.Errorf("vcs fetched %v, want %v", vcs.fetched, want)
	}
}

func TestFatalErrorStopsWalk(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "image.spdx.json")
	writeSBOM(t, root, "pkg:github/foo/bar@abc123", "pkg:generic/zlib@1.3?download_url=https%3A%2F%2Fzlib.net%2Fz.tar.gz")

	vcs := &fakeFetcher{err: models.Errorf(models.ErrVCS, "pkg:github/foo/bar@abc123", "clone failed")}
	download := &fakeFetcher{}

	err := New(testContext(), vcs, download, &fakePackages{}, &memRecorder{}).ResolveSBOM(context.Background(), root)
	if !models.IsType(err, models.ErrVCS) {
		t.Fatalf("ResolveSBOM() error = %v, want VCS", err)
	}
	if len(download.fetched) != 0 {
		t.Errorf("walk continued after a fatal error: %v", download.fetched)
	}
}

func TestUnresolvedPackageIsSkipped(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "image.spdx.json")
	writeSBOM(t, root, "pkg:apk/wolfi/gone@1-r0", "pkg:github/foo/bar@abc123")

	vcs := &fakeFetcher{}
	packages := &fakePackages{errs: map[string]error{
		"pkg:apk/wolfi/gone@1-r0": models.Errorf(models.ErrUnresolvedPackageURL, "pkg:apk/wolfi/gone@1-r0", "404"),
	}}

	if err := New(testContext(), vcs, &fakeFetcher{}, packages, &memRecorder{}).ResolveSBOM(context.Background(), root); err != nil {
		t.Fatalf("ResolveSBOM() error = %v", err)
	}
	if len(vcs.fetched) != 1 {
		t.Errorf("vcs fetched %v", vcs.fetched)
	}
}

func TestResolvePackage(t *testing.T) {
	dir := t.TempDir()
	zlib := filepath.Join(dir, "sbom", "zlib-1.3-r0.spdx.json")
	writeSBOM(t, zlib, "pkg:github/madler/zlib@09155ea")

	vcs := &fakeFetcher{}
	packages := &fakePackages{paths: map[string]string{"zlib": zlib}}

	if err := New(testContext(), vcs, &fakeFetcher{}, packages, &memRecorder{}).ResolvePackage(context.Background(), "zlib"); err != nil {
		t.Fatalf("ResolvePackage() error = %v", err)
	}
	if len(vcs.fetched) != 1 {
		t.Errorf("vcs fetched %v", vcs.fetched)
	}
}

func TestCancelledContext(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "image.spdx.json")
	writeSBOM(t, root, "pkg:github/foo/bar@abc123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vcs := &fakeFetcher{}
	if err := New(testContext(), vcs, &fakeFetcher{}, &fakePackages{}, &memRecorder{}).ResolveSBOM(ctx, root); err == nil {
		t.Error("ResolveSBOM() should stop on a cancelled context")
	}
	if len(vcs.fetched) != 0 {
		t.Errorf("fetched after cancel: %v", vcs.fetched)
	}
}
