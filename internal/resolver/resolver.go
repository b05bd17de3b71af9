package resolver

import (
	"context"
	"path/filepath"

	"github.com/ralt/srcfetch/internal/fetch"
	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/sbom"
	"github.com/sirupsen/logrus"
)

// Resolver walks SBOMs depth first, in document order
type Resolver struct {
	dispatcher *Dispatcher
	vcs        Fetcher
	download   Fetcher
	packages   PackageResolver
	recorder   models.Recorder

	// visited holds every SBOM walked in this run
	visited map[string]bool
}

// New creates a Resolver over the given strategies
func New(rctx models.ResolutionContext, vcs, download Fetcher, packages PackageResolver, recorder models.Recorder) *Resolver {
	return &Resolver{
		dispatcher: NewDispatcher(rctx),
		vcs:        vcs,
		download:   download,
		packages:   packages,
		recorder:   recorder,
		visited:    make(map[string]bool),
	}
}

// ResolveSBOM fetches the sources of every locator in the SBOM at path
func (r *Resolver) ResolveSBOM(ctx context.Context, path string) error {
	doc, err := sbom.Load(path)
	if err != nil {
		return models.NewError(models.ErrFileOp, path, err)
	}
	return r.walk(ctx, path, doc)
}

// ResolvePackage fetches the SBOM of a package and resolves it
func (r *Resolver) ResolvePackage(ctx context.Context, spec string) error {
	next, err := r.packages.Resolve(ctx, spec, "")
	if err != nil {
		return err
	}
	if next == "" {
		return nil
	}
	return r.ResolveSBOM(ctx, next)
}

func (r *Resolver) walk(ctx context.Context, path string, doc *sbom.Document) error {
	r.visited[visitKey(path)] = true

	log := logrus.WithField("sbom", filepath.Base(path))
	locators := doc.Locators()
	log.Infof("Resolving %d locator(s)", len(locators))

	for _, raw := range locators {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.resolve(ctx, raw, path)
		if err == nil {
			continue
		}
		if !models.IsRecoverable(err) {
			return err
		}
		logrus.WithField("locator", raw).Warnf("Skipping: %v", err)
		r.recorder.Record(models.Action{Kind: models.ActionSkip, Locator: raw, Detail: err.Error()})
	}
	return nil
}

func (r *Resolver) resolve(ctx context.Context, raw, activeSBOM string) error {
	ref, err := locator.Parse(raw)
	if err != nil {
		return err
	}

	strategy, reason := r.dispatcher.Dispatch(ref)
	logrus.WithFields(logrus.Fields{"locator": raw, "strategy": strategy}).Debug("Dispatching")

	switch strategy {
	case StrategyVCS:
		return r.vcs.Fetch(ctx, ref)
	case StrategyDownload:
		return r.download.Fetch(ctx, ref)
	case StrategyPackageSBOM:
		return r.expand(ctx, raw, activeSBOM)
	case StrategyUnimplemented:
		logrus.WithField("locator", raw).Warnf("Not implemented: %s", reason)
		r.recorder.Record(models.Action{Kind: models.ActionUnimplemented, Locator: raw, Detail: reason})
		return nil
	default:
		logSkip(raw, reason)
		r.recorder.Record(models.Action{Kind: models.ActionSkip, Locator: raw, Detail: reason})
		return nil
	}
}

// expand fetches the SBOM of a distribution package and walks it unless it
// is the SBOM being walked or was walked before
func (r *Resolver) expand(ctx context.Context, raw, activeSBOM string) error {
	next, err := r.packages.Resolve(ctx, raw, activeSBOM)
	if err != nil {
		return err
	}
	if next == "" || fetch.IsSameSBOM(next, activeSBOM) {
		return nil
	}
	if r.visited[visitKey(next)] {
		logrus.WithField("locator", raw).Debugf("Already walked %s", filepath.Base(next))
		return nil
	}

	doc, err := sbom.Load(next)
	if err != nil {
		return models.NewError(models.ErrFileOp, raw, err)
	}
	return r.walk(ctx, next, doc)
}

func visitKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
