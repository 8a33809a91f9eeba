package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/astra-bootstrap/internal/logger"
	"github.com/oshokin/astra-bootstrap/internal/service/bootstrap"
	"github.com/oshokin/astra-bootstrap/internal/version"
)

var errUnknownLogLevel = errors.New("unknown log level")

var (
	// manifestPath to the YAML manifest; empty means built-in defaults.
	manifestPath string
	// envFile overrides the config file named by the environment.
	envFile string
	// workDir is the installation root.
	workDir string
	// logLevel is the minimum level written to stderr.
	logLevel string

	// rootCmd provisions the engine binaries and the CLI tool, then launches the server.
	rootCmd = &cobra.Command{
		Use:   version.Name + " [port]",
		Short: "Provision the ASTRA web service and launch it.",
		Long: `Prepares everything the ASTRA web service needs and then replaces itself with the server.

The environment is the process environment merged with a KEY=VALUE config file
(.env by default); variables already exported always win over the file.
Missing engine binaries (astra, generator) are downloaded into the binary
directory and, when ASTRA_CHECKSUM_CHECK=true, checked against pinned digests.
The astra-web-cli tool is rendered from its template and smoke-tested.
The optional port argument overrides PORT.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: applyLogLevel,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var port string
			if len(args) > 0 {
				port = args[0]
			}

			return bootstrap.Run(ctx, pipelineOptions(port))
		},
	}
)

// Execute runs the astra-bootstrap CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

// pipelineOptions builds the options shared by the root and refresh commands.
func pipelineOptions(port string) *bootstrap.Options {
	return &bootstrap.Options{
		ManifestPath: manifestPath,
		EnvFile:      envFile,
		Port:         port,
		WorkDir:      workDir,
	}
}

// applyLogLevel sets the global logger level from --log-level.
func applyLogLevel(_ *cobra.Command, _ []string) error {
	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownLogLevel, logLevel)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&manifestPath, "manifest", "m", "", "path to the YAML manifest (built-in defaults when empty)")
	flags.StringVarP(&envFile, "env-file", "e", "", "path to the KEY=VALUE config file (overrides ASTRA_ENV_FILE)")
	flags.StringVarP(&workDir, "workdir", "w", "", "installation root (defaults to the current directory)")
	flags.StringVarP(&logLevel, "log-level", "l", "info", "log level: debug, info, warn, error")
}
