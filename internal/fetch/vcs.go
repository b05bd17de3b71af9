// Package fetch implements the strategies that bring upstream sources onto
// disk: pinned VCS checkouts, checksummed downloads and package SBOMs.
package fetch

import (
	"context"

	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/ralt/srcfetch/internal/vcs"
	"github.com/ralt/srcfetch/internal/workarea"
	"github.com/sirupsen/logrus"
)

// VCS checks out repositories at pinned revisions
type VCS struct {
	git      vcs.Git
	rctx     models.ResolutionContext
	work     *workarea.Manager
	recorder models.Recorder
}

// NewVCS creates the VCS checkout strategy
func NewVCS(git vcs.Git, rctx models.ResolutionContext, work *workarea.Manager, recorder models.Recorder) *VCS {
	return &VCS{git: git, rctx: rctx, work: work, recorder: recorder}
}

// Source derives the clone URL and pin of ref. A vcs_url qualifier wins;
// forge references use the purl version as the pin.
func Source(ref *locator.Reference, privileged bool) (locator.VCSSource, error) {
	var src locator.VCSSource

	if transport := ref.VCSURL(); locator.IsVCSTransport(transport) {
		parsed, err := locator.ParseVCS(transport)
		if err != nil {
			return src, models.NewError(models.ErrMalformedLocator, ref.Raw, err)
		}
		src = parsed
	} else {
		repo, err := locator.ForgeRepository(ref)
		if err != nil {
			return src, models.NewError(models.ErrUnhandledScheme, ref.Raw, err)
		}
		if ref.Version == "" {
			return src, models.Errorf(models.ErrMalformedLocator, ref.Raw, "no revision to check out")
		}
		src = locator.VCSSource{URL: repo, Pin: ref.Version}
	}

	if privileged {
		src.URL = locator.AuthenticatedURL(src.URL)
	} else {
		src.URL = locator.AnonymousURL(src.URL)
	}
	return src, nil
}

// Fetch checks ref out into its work-area path
func (v *VCS) Fetch(ctx context.Context, ref *locator.Reference) error {
	src, err := Source(ref, v.rctx.Privileged)
	if err != nil {
		return err
	}
	return v.Checkout(ctx, ref.Raw, src, v.work.Path(ref))
}

// Checkout makes dest a working tree of src at its pin. An existing clean
// tree is reused; the pin is checked out either way.
func (v *VCS) Checkout(ctx context.Context, raw string, src locator.VCSSource, dest string) error {
	log := logrus.WithFields(logrus.Fields{"locator": raw, "repository": src.URL, "revision": src.Pin})

	existing := v.git.IsCleanWorkTree(ctx, dest)

	if v.rctx.DryRun {
		if !existing {
			log.Infof("Would clone into %s", dest)
			v.recorder.Record(models.Action{Kind: models.ActionClone, Locator: raw, Target: dest, Detail: src.URL, DryRun: true})
		}
		log.Infof("Would check out %s", src.Pin)
		v.recorder.Record(models.Action{Kind: models.ActionCheckout, Locator: raw, Target: dest, Detail: src.Pin, DryRun: true})
		return nil
	}

	if existing {
		log.Infof("Reusing working tree %s", dest)
	} else {
		if err := utils.RemoveStale(dest); err != nil {
			return models.NewError(models.ErrFileOp, raw, err)
		}
		log.Infof("Cloning into %s", dest)
		v.recorder.Record(models.Action{Kind: models.ActionClone, Locator: raw, Target: dest, Detail: src.URL})
		if err := v.git.Clone(ctx, src.URL, dest); err != nil {
			return models.NewError(models.ErrVCS, raw, err)
		}
	}

	log.Infof("Checking out %s", src.Pin)
	v.recorder.Record(models.Action{Kind: models.ActionCheckout, Locator: raw, Target: dest, Detail: src.Pin})

	err := v.git.Checkout(ctx, dest, src.Pin)
	if err != nil && existing {
		// The pin may be newer than the reused clone
		log.Debugf("Checkout failed, fetching: %v", err)
		if ferr := v.git.Fetch(ctx, dest); ferr != nil {
			return models.NewError(models.ErrVCS, raw, ferr)
		}
		err = v.git.Checkout(ctx, dest, src.Pin)
	}
	if err != nil {
		return models.NewError(models.ErrVCS, raw, err)
	}
	return nil
}
