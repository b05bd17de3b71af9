// Package attest fetches SBOM attestations of container images with cosign.
package attest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/sirupsen/logrus"
)

// SPDXPredicateType is the in-toto predicate type of SPDX SBOM attestations
const SPDXPredicateType = "https://spdx.dev/Document"

// Envelope is a DSSE envelope as printed by cosign download attestation
type Envelope struct {
	PayloadType string `json:"payloadType"`
	Payload     string `json:"payload"`
}

// Statement is the in-toto statement inside an envelope
type Statement struct {
	Type          string          `json:"_type"`
	PredicateType string          `json:"predicateType"`
	Predicate     json.RawMessage `json:"predicate"`
}

type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w\nOutput: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}

// Cosign retrieves attestations by running the cosign binary
type Cosign struct {
	binary string
	run    runner
}

// NewCosign creates a Cosign backed by the cosign binary on PATH
func NewCosign() *Cosign {
	return &Cosign{binary: "cosign", run: execRunner}
}

// CheckInstalled fails with a MissingTool error when cosign is not on PATH
func (c *Cosign) CheckInstalled() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return models.NewError(models.ErrMissingTool, "",
			fmt.Errorf("cosign not installed: %w (install from https://github.com/sigstore/cosign)", err))
	}
	return nil
}

// DownloadSBOM writes the SPDX predicate attested for image on platform to dest
func (c *Cosign) DownloadSBOM(ctx context.Context, image string, arch models.Arch, dest string) error {
	logrus.WithField("image", image).Infof("Downloading SBOM attestation for %s", arch.Platform())

	output, err := c.run(ctx, c.binary, "download", "attestation",
		"--platform", arch.Platform(),
		"--predicate-type", SPDXPredicateType,
		image,
	)
	if err != nil {
		return models.NewError(models.ErrNetwork, image, err)
	}

	predicate, err := ExtractPredicate(output, SPDXPredicateType)
	if err != nil {
		return models.NewError(models.ErrUnresolvedPackageURL, image, err)
	}

	if err := utils.WriteFile(dest, predicate, 0644); err != nil {
		return models.NewError(models.ErrFileOp, image, err)
	}
	return nil
}

// ExtractPredicate returns the first predicate of predicateType among the
// newline separated envelopes in output
func ExtractPredicate(output []byte, predicateType string) ([]byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 1024*1024), 256*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("failed to decode attestation envelope: %w", err)
		}

		payload, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attestation payload: %w", err)
		}

		var stmt Statement
		if err := json.Unmarshal(payload, &stmt); err != nil {
			return nil, fmt.Errorf("failed to decode in-toto statement: %w", err)
		}
		if stmt.PredicateType != predicateType {
			continue
		}
		return unwrapPredicate(stmt.Predicate)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return nil, fmt.Errorf("no %s attestation found", predicateType)
}

// unwrapPredicate handles predicates stored as a JSON string holding the document
func unwrapPredicate(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("attestation has an empty predicate")
	}
	if raw[0] != '"' {
		return raw, nil
	}

	var inner string
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil, fmt.Errorf("failed to decode predicate: %w", err)
	}
	return []byte(inner), nil
}

var slugUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ImageSlug turns an image reference into a file name stem
func ImageSlug(image string) string {
	slug := slugUnsafe.ReplaceAllString(image, "_")
	return strings.Trim(slug, "_.")
}
