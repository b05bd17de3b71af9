package fetch

import (
	"context"
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/ralt/srcfetch/internal/apk"
	"github.com/ralt/srcfetch/internal/locator"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/signature"
	"github.com/ralt/srcfetch/internal/transfer"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/ralt/srcfetch/internal/workarea"
	"github.com/sirupsen/logrus"
)

// PackageSBOM turns a distribution package into the SBOM embedded in it
type PackageSBOM struct {
	downloader transfer.Downloader
	verifier   signature.IndexVerifier
	rctx       models.ResolutionContext
	work       *workarea.Manager
	recorder   models.Recorder

	// indexes holds each arch index once it was refreshed in this run
	indexes map[models.Arch]*apk.Index
}

// NewPackageSBOM creates the package-to-SBOM strategy. verifier may be nil
// when index signatures are not checked.
func NewPackageSBOM(downloader transfer.Downloader, verifier signature.IndexVerifier, rctx models.ResolutionContext, work *workarea.Manager, recorder models.Recorder) *PackageSBOM {
	return &PackageSBOM{
		downloader: downloader,
		verifier:   verifier,
		rctx:       rctx,
		work:       work,
		recorder:   recorder,
		indexes:    make(map[models.Arch]*apk.Index),
	}
}

// artifact is a resolved package file
type artifact struct {
	url  string
	arch models.Arch
	file string
	sbom string
}

// IsSameSBOM reports whether next names the SBOM being walked. Only base
// names are compared, so the same package reached through different
// directories still counts.
func IsSameSBOM(next, active string) bool {
	return active != "" && filepath.Base(next) == filepath.Base(active)
}

// Resolve fetches the package named by spec and returns the path of its
// embedded SBOM. spec is an .apk URL, an apk purl or a bare package name.
// An empty path with a nil error means there is nothing to walk: the package
// is the active SBOM itself, or this is a dry run and the SBOM is not on
// disk yet.
func (p *PackageSBOM) Resolve(ctx context.Context, spec, activeSBOM string) (string, error) {
	log := logrus.WithField("locator", spec)

	// Cheap derivations come first so a cycle never touches the network
	a, needIndex, err := p.derive(spec)
	if err != nil {
		return "", err
	}
	if !needIndex && IsSameSBOM(a.sbom, activeSBOM) {
		log.Debugf("Skipping %s, it is the SBOM being processed", filepath.Base(a.sbom))
		return "", nil
	}

	if needIndex {
		if a, err = p.lookup(ctx, spec, a.arch); err != nil {
			return "", err
		}
		if a.url == "" {
			return "", nil
		}
		if IsSameSBOM(a.sbom, activeSBOM) {
			log.Debugf("Skipping %s, it is the SBOM being processed", filepath.Base(a.sbom))
			return "", nil
		}
	}

	return p.fetch(ctx, spec, a)
}

// derive resolves spec without the index where possible. needIndex is set
// for bare names without a release.
func (p *PackageSBOM) derive(spec string) (artifact, bool, error) {
	spec = strings.TrimSpace(spec)
	arch := p.rctx.Arch

	switch {
	case isURL(spec):
		u, _ := url.Parse(spec)
		file := path.Base(u.Path)
		if !strings.HasSuffix(file, ".apk") {
			return artifact{}, false, models.Errorf(models.ErrUnresolvedPackageURL, spec, "not an .apk URL")
		}
		stem := strings.TrimSuffix(file, ".apk")
		return artifact{url: spec, arch: arch, file: file, sbom: p.work.SBOMPath(stem, "")}, false, nil

	case strings.HasPrefix(spec, "pkg:"):
		ref, err := locator.Parse(spec)
		if err != nil {
			return artifact{}, false, err
		}
		if ref.Type != locator.TypeApk {
			return artifact{}, false, models.Errorf(models.ErrUnhandledScheme, spec, "not an apk package")
		}
		if q := ref.Arch(); q != "" {
			if arch, err = models.ParseArch(q); err != nil {
				return artifact{}, false, models.NewError(models.ErrUnresolvedPackageURL, spec, err)
			}
		}
		if ref.Version == "" {
			return artifact{arch: arch, file: ref.Name}, true, nil
		}
		return p.fromRepository(ref.Name, ref.Version, arch), false, nil

	case spec == "":
		return artifact{}, false, models.Errorf(models.ErrUnresolvedPackageURL, spec, "empty package spec")

	case apk.HasReleaseSuffix(spec):
		repo := apk.NewRepository(p.rctx.RepositoryURL(), arch)
		file := spec + ".apk"
		return artifact{url: repo.FileURL(file), arch: arch, file: file, sbom: p.work.SBOMPath(spec, "")}, false, nil

	default:
		return artifact{arch: arch, file: spec}, true, nil
	}
}

func (p *PackageSBOM) fromRepository(name, version string, arch models.Arch) artifact {
	repo := apk.NewRepository(p.rctx.RepositoryURL(), arch)
	return artifact{
		url:  repo.PackageURL(name, version),
		arch: arch,
		file: models.Package{Name: name, Version: version}.Filename(),
		sbom: p.work.SBOMPath(name, version),
	}
}

// lookup finds the newest version of the package named in spec. A dry run
// without a cached index resolves nothing.
func (p *PackageSBOM) lookup(ctx context.Context, spec string, arch models.Arch) (artifact, error) {
	name := spec
	if strings.HasPrefix(spec, "pkg:") {
		if ref, err := locator.Parse(spec); err == nil {
			name = ref.Name
		}
	}

	idx, err := p.index(ctx, arch)
	if err != nil {
		return artifact{}, err
	}
	if idx == nil {
		return artifact{}, nil
	}

	pkg, ok := idx.Latest(name)
	if !ok {
		return artifact{}, models.Errorf(models.ErrUnresolvedPackageURL, spec, "no package %s in the %s index", name, arch)
	}
	logrus.WithField("locator", spec).Debugf("Resolved %s to %s", name, pkg.Version)
	return p.fromRepository(pkg.Name, pkg.Version, arch), nil
}

// index returns the repository index for arch, refreshing it once per run
func (p *PackageSBOM) index(ctx context.Context, arch models.Arch) (*apk.Index, error) {
	if idx, ok := p.indexes[arch]; ok {
		return idx, nil
	}

	repo := apk.NewRepository(p.rctx.RepositoryURL(), arch)
	indexPath := p.work.IndexPath(arch)

	if p.rctx.DryRun {
		if !utils.FileExists(indexPath) {
			logrus.Infof("Would download %s", repo.IndexURL())
			p.recorder.Record(models.Action{Kind: models.ActionDownload, Target: indexPath, Detail: repo.IndexURL(), DryRun: true})
			p.indexes[arch] = nil
			return nil, nil
		}
	} else {
		if err := utils.RemoveStale(indexPath); err != nil {
			return nil, models.NewError(models.ErrFileOp, repo.IndexURL(), err)
		}
		logrus.Infof("Refreshing index %s", repo.IndexURL())
		if err := p.downloader.Download(ctx, repo.IndexURL(), indexPath); err != nil {
			if transfer.IsNotFound(err) {
				return nil, models.NewError(models.ErrUnresolvedPackageURL, repo.IndexURL(), err)
			}
			return nil, err
		}
	}

	idx, err := apk.LoadIndex(indexPath, p.verifier)
	if err != nil {
		if models.IsType(err, models.ErrSignature) {
			return nil, err
		}
		return nil, models.NewError(models.ErrFileOp, repo.IndexURL(), err)
	}
	p.indexes[arch] = idx
	return idx, nil
}

// fetch downloads the artifact and extracts its SBOM
func (p *PackageSBOM) fetch(ctx context.Context, spec string, a artifact) (string, error) {
	log := logrus.WithFields(logrus.Fields{"locator": spec, "url": a.url})
	artifactPath := p.work.ArtifactPath(a.arch, a.file)
	present := utils.FileExists(artifactPath)

	if p.rctx.DryRun {
		if utils.FileExists(a.sbom) {
			log.Infof("Using SBOM already on disk: %s", a.sbom)
			return a.sbom, nil
		}
		if !present {
			log.Infof("Would download to %s", artifactPath)
			p.recorder.Record(models.Action{Kind: models.ActionDownload, Locator: spec, Target: artifactPath, Detail: a.url, DryRun: true})
		}
		log.Infof("Would extract SBOM to %s", a.sbom)
		p.recorder.Record(models.Action{Kind: models.ActionSBOM, Locator: spec, Target: a.sbom, DryRun: true})
		return "", nil
	}

	if present {
		log.Infof("Package already present: %s", artifactPath)
		if utils.FileExists(a.sbom) {
			return a.sbom, nil
		}
	} else {
		log.Infof("Downloading package to %s", artifactPath)
		p.recorder.Record(models.Action{Kind: models.ActionDownload, Locator: spec, Target: artifactPath, Detail: a.url})
		if err := p.downloader.Download(ctx, a.url, artifactPath); err != nil {
			if transfer.IsNotFound(err) {
				return "", models.NewError(models.ErrUnresolvedPackageURL, spec, err)
			}
			return "", withLocator(err, spec)
		}
	}

	log.Infof("Extracting SBOM to %s", a.sbom)
	p.recorder.Record(models.Action{Kind: models.ActionSBOM, Locator: spec, Target: a.sbom})
	if err := apk.ExtractSBOM(artifactPath, a.sbom); err != nil {
		if errors.Is(err, apk.ErrNoSBOM) {
			return "", models.NewError(models.ErrUnresolvedPackageURL, spec, err)
		}
		return "", models.NewError(models.ErrFileOp, spec, err)
	}
	return a.sbom, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
