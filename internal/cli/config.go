package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ralt/srcfetch/internal/models"
	"github.com/spf13/viper"
)

// validateConfig builds the resolution context from flags, environment and
// config file. The context is never changed afterwards.
func validateConfig(v *viper.Viper) (models.ResolutionContext, error) {
	var rctx models.ResolutionContext

	arch, err := models.ParseArch(v.GetString("arch"))
	if err != nil {
		return rctx, err
	}

	workDir := v.GetString("work-dir")
	if workDir == "" {
		return rctx, models.Errorf(models.ErrInvalidConfig, "", "work-dir is required")
	}
	if workDir, err = filepath.Abs(workDir); err != nil {
		return rctx, models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("invalid work-dir: %w", err))
	}

	rctx = models.ResolutionContext{
		Arch:              arch,
		Privileged:        v.GetBool("privileged"),
		DryRun:            v.GetBool("dry-run"),
		AutoConfirm:       v.GetBool("yes"),
		WorkDir:           workDir,
		Repository:        v.GetString("repository"),
		PrivateRepository: v.GetString("private-repository"),
		Token:             v.GetString("token"),
		Distributions:     stringList(v, "distributions"),
		PrivateSuffixes:   stringList(v, "private-suffixes"),
		KeyringPath:       v.GetString("keyring"),
		IndexKeyPath:      v.GetString("index-key"),
	}

	if rctx.Privileged && rctx.PrivateRepository != "" && rctx.Token == "" {
		return rctx, models.Errorf(models.ErrInvalidConfig, "", "%s_TOKEN is required for the private repository", envPrefix)
	}

	return rctx, rctx.Validate()
}

// stringList reads a list setting. Environment values arrive as one string
// and are split on commas.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
