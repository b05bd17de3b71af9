package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/ralt/srcfetch/internal/archive"
	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/signature"
	"github.com/ralt/srcfetch/internal/transfer"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/ralt/srcfetch/internal/workarea"
	"github.com/sirupsen/logrus"
)

// signatureSuffixes are tried in order next to a download URL
var signatureSuffixes = []string{".asc", ".sig"}

// extractedSuffix names the marker written once a download was unpacked
const extractedSuffix = ".extracted"

// Download retrieves and verifies checksummed archives
type Download struct {
	downloader transfer.Downloader
	verifier   signature.Verifier
	rctx       models.ResolutionContext
	work       *workarea.Manager
	recorder   models.Recorder
}

// NewDownload creates the checksummed download strategy. verifier may be nil
// when no keyring is configured.
func NewDownload(downloader transfer.Downloader, verifier signature.Verifier, rctx models.ResolutionContext, work *workarea.Manager, recorder models.Recorder) *Download {
	return &Download{downloader: downloader, verifier: verifier, rctx: rctx, work: work, recorder: recorder}
}

// Destination returns where the download of ref is stored
func (d *Download) Destination(ref *locator.Reference) (string, error) {
	u, err := url.Parse(ref.DownloadURL())
	if err != nil {
		return "", models.NewError(models.ErrMalformedLocator, ref.Raw, err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		name = ref.Name
	}
	return filepath.Join(d.work.Path(ref), name), nil
}

// Fetch downloads the download_url of ref into its work-area path
func (d *Download) Fetch(ctx context.Context, ref *locator.Reference) error {
	dest, err := d.Destination(ref)
	if err != nil {
		return err
	}

	var digests []utils.Digest
	for _, c := range ref.Checksums() {
		digests = append(digests, utils.Digest{Algorithm: c.Algorithm, Value: c.Digest})
	}
	return d.Retrieve(ctx, ref.Raw, ref.DownloadURL(), digests, dest)
}

// Retrieve makes dest a verified copy of rawURL and unpacks it beside itself.
// A file already at dest that matches every digest is kept as is.
func (d *Download) Retrieve(ctx context.Context, raw, rawURL string, digests []utils.Digest, dest string) error {
	log := logrus.WithFields(logrus.Fields{"locator": raw, "url": rawURL})

	if err := utils.CheckAlgorithms(digests); err != nil {
		return withLocator(err, raw)
	}
	if len(digests) == 0 {
		log.Warn("No checksum given, download cannot be verified")
	}

	if utils.FileExists(dest) {
		var err error
		if len(digests) > 0 {
			err = utils.VerifyFile(dest, digests...)
		}
		if err == nil {
			return d.reuse(raw, dest, log)
		}
		log.Warnf("Existing file does not verify, fetching again: %v", err)

		if d.rctx.DryRun {
			log.Infof("Would remove stale %s", dest)
		} else if err := removeDownload(dest); err != nil {
			return models.NewError(models.ErrFileOp, raw, err)
		}
	}

	if d.rctx.DryRun {
		log.Infof("Would download to %s", dest)
		d.recorder.Record(models.Action{Kind: models.ActionDownload, Locator: raw, Target: dest, Detail: rawURL, DryRun: true})
		return nil
	}

	log.Infof("Downloading to %s", dest)
	d.recorder.Record(models.Action{Kind: models.ActionDownload, Locator: raw, Target: dest, Detail: rawURL})
	if err := d.downloader.Download(ctx, rawURL, dest); err != nil {
		return withLocator(err, raw)
	}

	if len(digests) > 0 {
		if err := utils.VerifyFile(dest, digests...); err != nil {
			os.Remove(dest)
			return withLocator(err, raw)
		}
		log.Debugf("Verified %d checksum(s)", len(digests))
	}

	if d.verifier != nil {
		if err := d.verifySignature(ctx, rawURL, dest); err != nil {
			os.Remove(dest)
			return withLocator(err, raw)
		}
	}

	return d.extract(raw, dest)
}

// verifySignature checks the first detached signature published next to
// rawURL. A missing signature is not an error.
func (d *Download) verifySignature(ctx context.Context, rawURL, dest string) error {
	for _, suffix := range signatureSuffixes {
		sig, err := d.downloader.Fetch(ctx, rawURL+suffix)
		if transfer.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}

		f, err := os.Open(dest)
		if err != nil {
			return models.NewError(models.ErrFileOp, "", err)
		}
		defer f.Close()

		if err := d.verifier.VerifyDetached(f, sig); err != nil {
			return err
		}
		logrus.Infof("Verified signature %s", path.Base(rawURL+suffix))
		return nil
	}

	logrus.Infof("No detached signature published for %s", rawURL)
	return nil
}

// reuse handles a download already on disk. It only counts as done once
// its extraction completed.
func (d *Download) reuse(raw, dest string, log *logrus.Entry) error {
	if utils.FileExists(dest + extractedSuffix) {
		log.Infof("Already present: %s", dest)
		d.recorder.Record(models.Action{Kind: models.ActionSkip, Locator: raw, Target: dest, Detail: "already present"})
		return nil
	}

	if d.rctx.DryRun {
		log.Infof("Would extract %s", dest)
		d.recorder.Record(models.Action{Kind: models.ActionExtract, Locator: raw, Target: filepath.Dir(dest), DryRun: true})
		return nil
	}

	log.Infof("Present but not extracted yet: %s", dest)
	return d.extract(raw, dest)
}

func (d *Download) extract(raw, dest string) error {
	target := filepath.Dir(dest)
	format, err := archive.Extract(dest, target)
	switch {
	case errors.Is(err, archive.ErrUnknownFormat):
		logrus.WithField("locator", raw).Infof("Not an archive, leaving %s in place", filepath.Base(dest))
		format = archive.FormatUnknown
	case err != nil:
		return models.NewError(models.ErrFileOp, raw, fmt.Errorf("failed to extract %s: %w", dest, err))
	default:
		logrus.WithField("locator", raw).Infof("Extracted %s archive into %s", format, target)
		d.recorder.Record(models.Action{Kind: models.ActionExtract, Locator: raw, Target: target, Detail: format.String()})
	}

	if err := utils.WriteFile(dest+extractedSuffix, []byte(format.String()+"\n"), 0644); err != nil {
		return models.NewError(models.ErrFileOp, raw, err)
	}
	return nil
}

// removeDownload deletes a stale download together with its marker
func removeDownload(dest string) error {
	if err := os.Remove(dest + extractedSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Remove(dest)
}

// withLocator fills in the locator of a FetchError raised below the strategy
func withLocator(err error, raw string) error {
	var fe *models.FetchError
	if errors.As(err, &fe) && fe.Locator == "" {
		fe.Locator = raw
	}
	return err
}
