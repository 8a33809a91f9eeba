package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/logger"
	"github.com/oshokin/astra-bootstrap/internal/service/binary"
	"github.com/oshokin/astra-bootstrap/internal/service/bootstrap"
	"github.com/oshokin/astra-bootstrap/internal/version"
)

var (
	// errOptionsAreNotSet is returned when Run is called without options.
	errOptionsAreNotSet = errors.New("options are not set")
	// errUnknownAlgorithm is returned for algorithms the manifest does not accept.
	errUnknownAlgorithm = errors.New("unknown digest algorithm")
)

// Options contains inputs for the packager entry point.
type Options struct {
	// Pipeline locates the manifest, the config file and the work directory.
	Pipeline bootstrap.Options
	// OutputPath is where the pinned manifest is written; empty means ManifestPath
	// or the default manifest filename.
	OutputPath string
	// Algorithm overrides the digest algorithm of every binary when not empty.
	Algorithm string
}

// Pinned describes one pinned binary.
type Pinned struct {
	Name      string
	Algorithm string
	Checksum  string
}

// packager pins checksums of installed binaries into a manifest.
type packager struct {
	// manifest is updated in place with the computed checksums.
	manifest *config.Manifest
	// opts are the validated inputs.
	opts *Options
}

// Run digests the installed binaries and writes the pinned manifest.
func Run(ctx context.Context, opts *Options) ([]Pinned, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, version.Name+"-pin")

	if opts == nil {
		return nil, errOptionsAreNotSet
	}

	opts.Algorithm = strings.ToLower(strings.TrimSpace(opts.Algorithm))
	if opts.Algorithm != "" && !config.IsSupportedAlgorithm(opts.Algorithm) {
		return nil, fmt.Errorf("%s: %w", opts.Algorithm, errUnknownAlgorithm)
	}

	manifest, err := config.Load(opts.Pipeline.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	pkg := &packager{manifest: manifest, opts: opts}

	pinned, err := pkg.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return pinned, nil
}

// Run computes the checksums and saves the manifest.
func (p *packager) Run(ctx context.Context) ([]Pinned, error) {
	resolved, err := bootstrap.ResolveEnvironment(ctx, p.manifest, &p.opts.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("resolve environment: %w", err)
	}

	logger.InfoKV(ctx, "Pinning installed binaries", "binary_dir", resolved.BinaryDir)

	pinned, err := p.fillChecksums(resolved.BinaryDir)
	if err != nil {
		return nil, err
	}

	output := p.outputPath()

	logger.InfoKV(ctx, "Saving pinned manifest", "path", output)

	if err = config.Save(output, p.manifest); err != nil {
		return nil, fmt.Errorf("save manifest: %w", err)
	}

	p.printNextSteps(ctx, output)

	return pinned, nil
}

// fillChecksums digests every manifest binary inside binaryDir.
func (p *packager) fillChecksums(binaryDir string) ([]Pinned, error) {
	descriptors := binary.DescriptorsFor(p.manifest.Binaries, binaryDir)
	pinned := make([]Pinned, 0, len(descriptors))

	for i, descriptor := range descriptors {
		if _, err := os.Stat(descriptor.InstallPath); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", descriptor.InstallPath, os.ErrNotExist)
		} else if err != nil {
			return nil, fmt.Errorf("stat %s: %w", descriptor.InstallPath, err)
		}

		algorithm := descriptor.Algorithm
		if p.opts.Algorithm != "" {
			algorithm = p.opts.Algorithm
		}

		checksum, err := binary.FileDigest(descriptor.InstallPath, algorithm)
		if err != nil {
			return nil, err
		}

		p.manifest.Binaries[i].Algorithm = algorithm
		p.manifest.Binaries[i].Checksum = checksum

		pinned = append(pinned, Pinned{Name: descriptor.Name, Algorithm: algorithm, Checksum: checksum})
	}

	return pinned, nil
}

// outputPath returns where the pinned manifest goes.
func (p *packager) outputPath() string {
	switch {
	case p.opts.OutputPath != "":
		return p.opts.OutputPath
	case p.opts.Pipeline.ManifestPath != "":
		return p.opts.Pipeline.ManifestPath
	default:
		return config.DefaultManifestFilename
	}
}

// printNextSteps logs human-readable guidance for using the pinned manifest.
func (p *packager) printNextSteps(ctx context.Context, output string) {
	logger.Infof(ctx,
		"The manifest %s now pins the installed binaries.\n"+
			"Set %s=true to verify them on every start, and run %s refresh "+
			"to bring drifted installations back to these versions.",
		output, p.manifest.Environment.ChecksumCheckVar, version.Name)
}
