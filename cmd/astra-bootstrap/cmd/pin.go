package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/astra-bootstrap/internal/service/packager"
)

var (
	// pinOutput is where the pinned manifest is written.
	pinOutput string
	// pinAlgorithm overrides the digest algorithm of every binary.
	pinAlgorithm string

	// pinCmd records checksums of the installed binaries in a manifest.
	pinCmd = &cobra.Command{
		Use:   "pin",
		Short: "Pin the installed engine binaries into a manifest.",
		Long: `Digests every engine binary installed in the binary directory and writes a
manifest with matching checksums. Other installations using that manifest with
ASTRA_CHECKSUM_CHECK=true refuse to start with different binaries, and
"astra-bootstrap refresh" brings them back to the pinned versions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pinned, err := packager.Run(context.Background(), &packager.Options{
				Pipeline:   *pipelineOptions(""),
				OutputPath: pinOutput,
				Algorithm:  pinAlgorithm,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, p := range pinned {
				_, _ = fmt.Fprintf(w, "%s\t%s:%s\n", p.Name, p.Algorithm, p.Checksum)
			}

			return w.Flush()
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	pinCmd.Flags().StringVarP(&pinOutput, "output", "o", "", "where to write the pinned manifest (defaults to --manifest)")
	pinCmd.Flags().StringVarP(&pinAlgorithm, "algorithm", "a", "", "digest algorithm for every binary: md5, sha256, sha512, blake3")
	rootCmd.AddCommand(pinCmd)
}
