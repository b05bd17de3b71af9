package attest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ralt/srcfetch/internal/models"
)

func envelope(t *testing.T, predicateType string, predicate interface{}) string {
	t.Helper()
	stmt := map[string]interface{}{
		"_type":         "https://in-toto.io/Statement/v0.1",
		"predicateType": predicateType,
		"predicate":     predicate,
	}
	payload, err := json.Marshal(stmt)
	if err != nil {
		t.Fatalf("Failed to marshal statement: %v", err)
	}
	env, err := json.Marshal(Envelope{
		PayloadType: "application/vnd.in-toto+json",
		Payload:     base64.StdEncoding.EncodeToString(payload),
	})
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	return string(env)
}

func TestExtractPredicate(t *testing.T) {
	doc := map[string]interface{}{"spdxVersion": "SPDX-2.3", "name": "wolfi-base"}

	tests := []struct {
		name   string
		output string
	}{
		{"object predicate", envelope(t, SPDXPredicateType, doc)},
		{"string predicate", envelope(t, SPDXPredicateType, `{"spdxVersion":"SPDX-2.3","name":"wolfi-base"}`)},
		{"skips other types", envelope(t, "https://slsa.dev/provenance/v0.2", map[string]string{"x": "y"}) + "\n" +
			envelope(t, SPDXPredicateType, doc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractPredicate([]byte(tt.output), SPDXPredicateType)
			if err != nil {
				t.Fatalf("ExtractPredicate() error = %v", err)
			}
			var decoded map[string]interface{}
			if err := json.Unmarshal(got, &decoded); err != nil {
				t.Fatalf("predicate is not JSON: %v", err)
			}
			if decoded["name"] != "wolfi-base" {
				t.Errorf("predicate name = %v", decoded["name"])
			}
		})
	}
}

func TestExtractPredicateMissing(t *testing.T) {
	output := envelope(t, "https://slsa.dev/provenance/v0.2", map[string]string{})
	if _, err := ExtractPredicate([]byte(output), SPDXPredicateType); err == nil {
		t.Error("ExtractPredicate() should fail without a matching attestation")
	}
	if _, err := ExtractPredicate([]byte("not json"), SPDXPredicateType); err == nil {
		t.Error("ExtractPredicate() should fail on garbage")
	}
}

func TestDownloadSBOM(t *testing.T) {
	var gotArgs []string
	c := &Cosign{binary: "cosign", run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte(envelope(t, SPDXPredicateType, map[string]string{"name": "img"})), nil
	}}

	dest := filepath.Join(t.TempDir(), "sbom", "img.spdx.json")
	if err := c.DownloadSBOM(context.Background(), "cgr.dev/chainguard/static:latest", models.ArchAarch64, dest); err != nil {
		t.Fatalf("DownloadSBOM() error = %v", err)
	}

	joined := strings.Join(gotArgs, " ")
	want := "download attestation --platform linux/arm64 --predicate-type https://spdx.dev/Document cgr.dev/chainguard/static:latest"
	if joined != want {
		t.Errorf("cosign args = %q, want %q", joined, want)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("SBOM not written: %v", err)
	}
	if !strings.Contains(string(data), `"img"`) {
		t.Errorf("SBOM = %s", data)
	}
}

func TestDownloadSBOMCommandFailure(t *testing.T) {
	c := &Cosign{binary: "cosign", run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	}}
	err := c.DownloadSBOM(context.Background(), "example.com/img", models.ArchX86_64, filepath.Join(t.TempDir(), "x.json"))
	if !models.IsType(err, models.ErrNetwork) {
		t.Errorf("DownloadSBOM() error = %v, want Network", err)
	}
}

func TestImageSlug(t *testing.T) {
	tests := map[string]string{
		"cgr.dev/chainguard/static:latest": "cgr.dev_chainguard_static_latest",
		"example.com/img@sha256:abc":       "example.com_img_sha256_abc",
		"../../etc/passwd":                 "etc_passwd",
	}
	for in, want := range tests {
		if got := ImageSlug(in); got != want {
			t.Errorf("ImageSlug(%q) = %q, want %q", in, got, want)
		}
	}
}
