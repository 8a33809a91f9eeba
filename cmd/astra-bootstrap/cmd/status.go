package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/repository/receipt"
	"github.com/oshokin/astra-bootstrap/internal/service/bootstrap"
)

var errNoReceipt = errors.New("no provisioning receipt found, run astra-bootstrap first")

// statusCmd prints the receipt of the last successful provisioning run.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the last provisioning run installed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		manifest, err := config.Load(manifestPath)
		if err != nil {
			return err
		}

		opts, err := bootstrap.NormalizeOptions(pipelineOptions(""))
		if err != nil {
			return err
		}

		repository := receipt.NewFileRepository(bootstrap.ReceiptPath(manifest, opts.WorkDir))

		r, err := repository.Load(context.Background())
		if errors.Is(err, receipt.ErrNotFound) {
			return fmt.Errorf("%s: %w", repository.Path(), errNoReceipt)
		}

		if err != nil {
			return err
		}

		return printReceipt(cmd, r)
	},
}

// printReceipt renders the receipt as aligned text.
func printReceipt(cmd *cobra.Command, r *receipt.Receipt) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "run id:\t%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "provisioned at:\t%s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05 MST"))
	_, _ = fmt.Fprintf(w, "host:\t%s (%s, %s %s)\n", r.Host.Hostname, r.Host.Username, r.Host.Platform, r.Host.Arch)
	_, _ = fmt.Fprintf(w, "port:\t%d\n", r.Port)
	_, _ = fmt.Fprintf(w, "cli:\t%s\n", r.CLIPath)

	if len(r.Conflicts) > 0 {
		_, _ = fmt.Fprintf(w, "overridden by process:\t%v\n", r.Conflicts)
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "BINARY\tORIGIN\tDIGEST\tPATH")

	for _, b := range r.Binaries {
		digest := "-"
		if b.Digest != "" {
			digest = b.Algorithm + ":" + b.Digest
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.Name, b.Origin, digest, b.Path)
	}

	return w.Flush()
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(statusCmd)
}
