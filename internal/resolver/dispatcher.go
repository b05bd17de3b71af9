// Package resolver walks SBOM documents and dispatches every locator to the
// fetch strategy that serves it.
package resolver

import (
	"context"
	"strings"

	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/sirupsen/logrus"
)

// Strategy is the fetch strategy selected for a reference
type Strategy int

const (
	StrategySkip Strategy = iota
	StrategyVCS
	StrategyDownload
	StrategyPackageSBOM
	StrategyUnimplemented
)

func (s Strategy) String() string {
	switch s {
	case StrategyVCS:
		return "vcs"
	case StrategyDownload:
		return "download"
	case StrategyPackageSBOM:
		return "package-sbom"
	case StrategyUnimplemented:
		return "unimplemented"
	default:
		return "skip"
	}
}

// Fetcher retrieves the source behind a reference
type Fetcher interface {
	Fetch(ctx context.Context, ref *locator.Reference) error
}

// PackageResolver turns a package spec into the path of its SBOM
type PackageResolver interface {
	Resolve(ctx context.Context, spec, activeSBOM string) (string, error)
}

// Dispatcher classifies references
type Dispatcher struct {
	rctx models.ResolutionContext
}

// NewDispatcher creates a Dispatcher for rctx
func NewDispatcher(rctx models.ResolutionContext) *Dispatcher {
	return &Dispatcher{rctx: rctx}
}

// Dispatch selects exactly one strategy for ref. The reason explains skips.
// Classification only reads ref and the context.
func (d *Dispatcher) Dispatch(ref *locator.Reference) (Strategy, string) {
	switch {
	case locator.IsVCSTransport(ref.VCSURL()):
		return StrategyVCS, ""

	case ref.Type == locator.TypeGeneric && ref.HasQualifier(locator.QualifierDownloadURL):
		return StrategyDownload, ""

	case ref.Type == locator.TypeGitHub:
		if !d.rctx.Privileged && d.isPrivate(ref) {
			return StrategySkip, "private repository, needs --privileged"
		}
		return StrategyVCS, ""

	case ref.Type == locator.TypeApk && d.rctx.IsDistribution(ref.Namespace):
		return StrategyPackageSBOM, ""

	case ref.Type == locator.TypeOCI:
		if d.rctx.Privileged {
			return StrategyUnimplemented, "oci sources are not implemented"
		}
		return StrategySkip, "oci reference, needs --privileged"

	default:
		return StrategySkip, "unhandled locator type " + ref.Type
	}
}

// isPrivate reports whether the repository name or subpath carries one of
// the private suffixes
func (d *Dispatcher) isPrivate(ref *locator.Reference) bool {
	for _, suffix := range d.rctx.PrivateSuffixes {
		if suffix == "" {
			continue
		}
		if strings.HasSuffix(ref.Name, suffix) || strings.HasSuffix(strings.TrimSuffix(ref.Subpath, "/"), suffix) {
			return true
		}
	}
	return false
}

func logSkip(raw, reason string) {
	logrus.WithField("locator", raw).Infof("Skipping: %s", reason)
}
