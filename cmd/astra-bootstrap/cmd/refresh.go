package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/astra-bootstrap/internal/service/refresh"
)

// refreshCmd replaces engine binaries that drifted from their pinned checksums.
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Replace engine binaries that differ from their pinned checksums.",
	Long: `Resolves the environment like a provisioning run, then downloads every binary
that is missing or whose digest differs from the checksum pinned in the manifest,
validates the download against the pin and swaps it in place.
Binaries executed by a running process are never replaced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		outcomes, err := refresh.Run(ctx, pipelineOptions(""))

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, outcome := range outcomes {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", outcome.Name, outcome.Action, outcome.Path)
		}

		_ = w.Flush()

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(refreshCmd)
}
