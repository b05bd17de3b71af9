package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ralt/srcfetch/internal/attest"
	"github.com/ralt/srcfetch/internal/fetch"
	"github.com/ralt/srcfetch/internal/models"
	"github.com/ralt/srcfetch/internal/report"
	"github.com/ralt/srcfetch/internal/resolver"
	"github.com/ralt/srcfetch/internal/signature"
	"github.com/ralt/srcfetch/internal/transfer"
	"github.com/ralt/srcfetch/internal/utils"
	"github.com/ralt/srcfetch/internal/vcs"
	"github.com/ralt/srcfetch/internal/workarea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// session holds the components wired for one run
type session struct {
	rctx     models.ResolutionContext
	work     *workarea.Manager
	recorder *report.Recorder
	resolver *resolver.Resolver
	cosign   *attest.Cosign
}

// NewSBOMCmd creates the sbom command
func NewSBOMCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sbom <file>",
		Short: "Fetch the sources of every package listed in an SBOM file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !utils.FileExists(path) {
				return models.Errorf(models.ErrFileOp, "", "SBOM file not found: %s", path)
			}
			return run(cmd, v, path, false, func(ctx context.Context, s *session) error {
				return s.resolver.ResolveSBOM(ctx, path)
			})
		},
	}
}

// NewImageCmd creates the image command
func NewImageCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "image <reference>",
		Short: "Fetch the sources behind the SBOM attested for a container image",
		Long: `Download the SPDX SBOM attestation of a container image with cosign,
for the platform matching --arch, and fetch the sources it lists.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image := args[0]
			return run(cmd, v, image, true, func(ctx context.Context, s *session) error {
				path, cleanup, err := s.imageSBOM(ctx, image)
				if err != nil {
					return err
				}
				defer cleanup()
				return s.resolver.ResolveSBOM(ctx, path)
			})
		},
	}
}

// NewPackageCmd creates the package command
func NewPackageCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "package <name|name-version|purl|url>",
		Short: "Fetch the sources of a distribution package through its embedded SBOM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := args[0]
			return run(cmd, v, spec, false, func(ctx context.Context, s *session) error {
				return s.resolver.ResolvePackage(ctx, spec)
			})
		},
	}
}

// run validates the configuration, asks for confirmation and drives fn with
// a fully wired session. The report is written whatever the outcome.
func run(cmd *cobra.Command, v *viper.Viper, target string, needsCosign bool, fn func(context.Context, *session) error) error {
	rctx, err := validateConfig(v)
	if err != nil {
		return err
	}

	cosign := attest.NewCosign()
	if needsCosign {
		if err := cosign.CheckInstalled(); err != nil {
			return err
		}
	}

	if shouldPrompt(rctx) {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), rctx, target)
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if !ok {
			logrus.Info("Aborted")
			return nil
		}
	}

	s, err := newSession(rctx, vcs.NewClient(rctx.Privileged), cosign)
	if err != nil {
		return err
	}

	logrus.Infof("Fetching sources of %s (%s)", target, rctx)
	runErr := fn(cmd.Context(), s)

	logrus.Infof("Actions: %s", s.recorder.SummaryLine())
	if path := v.GetString("report"); path != "" {
		if err := s.recorder.WriteFile(path, rctx, runErr); err != nil {
			logrus.Errorf("Failed to write report: %v", err)
		} else {
			logrus.Infof("Report written to %s", path)
		}
	}
	return runErr
}

func newSession(rctx models.ResolutionContext, git vcs.Git, cosign *attest.Cosign) (*session, error) {
	downloader := transfer.NewClient(transfer.WithBearerToken(rctx.PrivateRepository, rctx.Token))

	var verifier signature.Verifier
	if rctx.KeyringPath != "" {
		v, err := signature.NewOpenPGPVerifier(rctx.KeyringPath)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	var indexVerifier signature.IndexVerifier
	if rctx.IndexKeyPath != "" {
		v, err := signature.NewRSAVerifier(rctx.IndexKeyPath)
		if err != nil {
			return nil, err
		}
		indexVerifier = v
	} else {
		logrus.Warn("No --index-key given, APKINDEX signatures are not verified")
	}

	work := workarea.New(rctx.WorkDir)
	recorder := report.NewRecorder()

	return &session{
		rctx:     rctx,
		work:     work,
		recorder: recorder,
		cosign:   cosign,
		resolver: resolver.New(rctx,
			fetch.NewVCS(git, rctx, work, recorder),
			fetch.NewDownload(downloader, verifier, rctx, work, recorder),
			fetch.NewPackageSBOM(downloader, indexVerifier, rctx, work, recorder),
			recorder,
		),
	}, nil
}

// imageSBOM returns the path of the SBOM attested for image. In dry-run mode
// an SBOM not yet in the work area goes to a temporary file.
func (s *session) imageSBOM(ctx context.Context, image string) (string, func(), error) {
	nop := func() {}
	dest := s.work.RootSBOMPath(attest.ImageSlug(image))

	if !s.rctx.DryRun {
		if err := s.cosign.DownloadSBOM(ctx, image, s.rctx.Arch, dest); err != nil {
			return "", nop, err
		}
		s.recorder.Record(models.Action{Kind: models.ActionSBOM, Locator: image, Target: dest})
		return dest, nop, nil
	}

	if utils.FileExists(dest) {
		return dest, nop, nil
	}

	tmpDir, err := os.MkdirTemp("", "srcfetch-")
	if err != nil {
		return "", nop, models.NewError(models.ErrFileOp, image, err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	tmp := filepath.Join(tmpDir, filepath.Base(dest))
	if err := s.cosign.DownloadSBOM(ctx, image, s.rctx.Arch, tmp); err != nil {
		cleanup()
		return "", nop, err
	}
	s.recorder.Record(models.Action{Kind: models.ActionSBOM, Locator: image, Target: dest, DryRun: true})
	return tmp, cleanup, nil
}
