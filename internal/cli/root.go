package cli

import (
	"fmt"
	"strings"

	"github.com/ralt/srcfetch/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SRCFETCH"

// Defaults for the public Wolfi repository
const (
	defaultRepository = "https://packages.wolfi.dev/os"
	defaultWorkDir    = "srcfetch-work"
)

var (
	defaultDistributions   = []string{"wolfi", "chainguard"}
	defaultPrivateSuffixes = []string{"-private", "-enterprise"}
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "srcfetch",
		Short: "Fetch the upstream sources listed in an SBOM",
		Long: `Srcfetch reads the package URLs of an SBOM and retrieves the upstream
source behind each of them: git repositories at their pinned commit and
checksummed source archives. Packages of the distribution itself are
expanded through the SBOM embedded in them.

Every flag can also be set as SRCFETCH_<FLAG> in the environment or in a
configuration file given with --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(v); err != nil {
				return err
			}

			// Setup logging
			if v.GetBool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
			return nil
		},
	}

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose logging")
	flags.String("config", "", "Configuration file (yaml, toml or json)")
	flags.String("arch", string(models.ArchX86_64), "Target architecture (x86_64, aarch64)")
	flags.Bool("privileged", false, "Use authenticated access to private sources")
	flags.Bool("dry-run", false, "Log what would be fetched without changing anything")
	flags.BoolP("yes", "y", false, "Do not ask for confirmation")
	flags.StringP("work-dir", "w", defaultWorkDir, "Directory receiving the fetched sources")

	// Package repository flags
	flags.String("repository", defaultRepository, "APK repository of the distribution")
	flags.String("private-repository", "", "APK repository used with --privileged")
	flags.StringSlice("distributions", defaultDistributions, "apk namespaces expanded through their embedded SBOM")
	flags.StringSlice("private-suffixes", defaultPrivateSuffixes, "Repository name suffixes that need --privileged")

	// Verification flags
	flags.String("keyring", "", "OpenPGP public keyring for detached download signatures")
	flags.String("index-key", "", "RSA public key verifying APKINDEX signatures")

	flags.String("report", "", "Write a YAML report of every action to this file")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("failed to bind flags: %v", err))
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Add subcommands
	rootCmd.AddCommand(NewSBOMCmd(v))
	rootCmd.AddCommand(NewImageCmd(v))
	rootCmd.AddCommand(NewPackageCmd(v))

	return rootCmd
}

func loadConfigFile(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return models.NewError(models.ErrInvalidConfig, "", fmt.Errorf("failed to read config %s: %w", path, err))
	}
	logrus.Debugf("Loaded configuration from %s", path)
	return nil
}
