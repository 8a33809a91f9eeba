package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/service/binary"
)

var errManifestExists = errors.New("manifest already exists, use --force to overwrite")

// forceManifest allows init-manifest to overwrite an existing file.
var forceManifest bool

// manifestCmd writes the built-in manifest so it can be customized.
var manifestCmd = &cobra.Command{
	Use:   "init-manifest [path]",
	Short: "Write the built-in manifest as YAML.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultManifestFilename
		if len(args) > 0 {
			path = args[0]
		}

		exists, err := binary.Exists(path)
		if err != nil {
			return err
		}

		if exists && !forceManifest {
			return fmt.Errorf("%s: %w", path, errManifestExists)
		}

		if err = config.Save(path, config.Default()); err != nil {
			return err
		}

		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Manifest written to", path)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	manifestCmd.Flags().BoolVarP(&forceManifest, "force", "f", false, "overwrite an existing manifest")
	rootCmd.AddCommand(manifestCmd)
}
