package models

import (
	"fmt"
	"strings"
)

// Arch is one of the two supported target architectures
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAarch64 Arch = "aarch64"
)

// ParseArch maps user input (including Go/OCI spellings) to an Arch
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86_64", "amd64":
		return ArchX86_64, nil
	case "aarch64", "arm64":
		return ArchAarch64, nil
	default:
		return "", Errorf(ErrInvalidConfig, "", "unsupported architecture %q (want x86_64 or aarch64)", s)
	}
}

// String returns the canonical architecture used in APK repository URLs
func (a Arch) String() string {
	return string(a)
}

// Platform returns the OCI platform string for the architecture
func (a Arch) Platform() string {
	switch a {
	case ArchAarch64:
		return "linux/arm64"
	default:
		return "linux/amd64"
	}
}

// ResolutionContext carries the settings shared by every component of a run.
// It is built once before the walk starts and passed by value afterwards.
type ResolutionContext struct {
	Arch        Arch
	Privileged  bool
	DryRun      bool
	AutoConfirm bool

	// WorkDir is the root of the work area
	WorkDir string

	// Package repositories
	Repository        string
	PrivateRepository string
	Token             string // Bearer token for PrivateRepository

	// Distributions lists the apk purl namespaces that belong to our own
	// distribution and are expanded through their embedded SBOM.
	Distributions []string

	// PrivateSuffixes mark forge repositories only reachable in privileged mode
	PrivateSuffixes []string

	// Verification
	KeyringPath  string // OpenPGP keyring for detached download signatures
	IndexKeyPath string // RSA public key for APKINDEX signatures
}

// RepositoryURL returns the package repository for the current mode
func (c ResolutionContext) RepositoryURL() string {
	if c.Privileged && c.PrivateRepository != "" {
		return strings.TrimSuffix(c.PrivateRepository, "/")
	}
	return strings.TrimSuffix(c.Repository, "/")
}

// IsDistribution reports whether namespace belongs to our distribution
func (c ResolutionContext) IsDistribution(namespace string) bool {
	for _, d := range c.Distributions {
		if strings.EqualFold(d, namespace) {
			return true
		}
	}
	return false
}

// Validate checks that the context can drive a resolution
func (c ResolutionContext) Validate() error {
	if c.WorkDir == "" {
		return Errorf(ErrInvalidConfig, "", "work-dir is required")
	}
	if c.Arch != ArchX86_64 && c.Arch != ArchAarch64 {
		return Errorf(ErrInvalidConfig, "", "unsupported architecture %q", c.Arch)
	}
	if c.Repository == "" {
		return Errorf(ErrInvalidConfig, "", "repository is required")
	}
	return nil
}

func (c ResolutionContext) String() string {
	return fmt.Sprintf("arch=%s privileged=%t dry-run=%t work-dir=%s repository=%s",
		c.Arch, c.Privileged, c.DryRun, c.WorkDir, c.RepositoryURL())
}
