package refresh

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/logger"
	"github.com/oshokin/astra-bootstrap/internal/service/binary"
	"github.com/oshokin/astra-bootstrap/internal/service/bootstrap"
	"github.com/oshokin/astra-bootstrap/internal/version"

	// Register the hashes go-update validates with.
	_ "crypto/md5" //nolint:gosec // MD5 pins an engine version; it is not a security control.
	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Action tells what refresh did with one binary.
type Action string

const (
	// ActionFetched means the binary was absent and has been downloaded.
	ActionFetched Action = "fetched"
	// ActionCurrent means the installed binary already matches its pinned digest.
	ActionCurrent Action = "current"
	// ActionUnpinned means no checksum is pinned, so there is nothing to compare with.
	ActionUnpinned Action = "unpinned"
	// ActionReplaced means the binary was swapped with the pinned artifact.
	ActionReplaced Action = "replaced"
)

var (
	// ErrBusy is returned when a binary to replace is being executed.
	ErrBusy = errors.New("binary is in use")

	errOptionsAreNotSet = errors.New("options are not set")
)

// cryptoHashes maps manifest algorithms to the hashes go-update can verify.
// BLAKE3 has no crypto.Hash and is checked before Apply only.
//
//nolint:gochecknoglobals // Read-only lookup table.
var cryptoHashes = map[string]crypto.Hash{
	"md5":    crypto.MD5,
	"sha256": crypto.SHA256,
	"sha512": crypto.SHA512,
}

// Outcome reports what happened to one binary.
type Outcome struct {
	Name   string
	Path   string
	Action Action
}

// ProcessLister lists the running processes.
type ProcessLister func() ([]ps.Process, error)

// Option configures a Refresher.
type Option func(*Refresher)

// WithHTTPClient replaces the client used to download binaries.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Refresher) {
		r.httpClient = client
	}
}

// WithProcessLister replaces the process table lookup.
func WithProcessLister(lister ProcessLister) Option {
	return func(r *Refresher) {
		if lister != nil {
			r.processes = lister
		}
	}
}

// Refresher brings installed binaries back to their pinned versions.
type Refresher struct {
	manifest    *config.Manifest
	opts        *bootstrap.Options
	httpClient  *http.Client
	processes   ProcessLister
	provisioner *binary.Provisioner
}

// Run loads the manifest named by opts and refreshes every binary in it.
func Run(ctx context.Context, opts *bootstrap.Options, options ...Option) ([]Outcome, error) {
	ctx = logger.WithName(ctx, version.Name+"-refresh")

	if opts == nil {
		return nil, errOptionsAreNotSet
	}

	manifest, err := config.Load(opts.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	outcomes, err := New(manifest, opts, options...).Refresh(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Refresh failed", "error", err)
		return outcomes, err
	}

	logger.InfoKV(ctx, "Refresh completed", "binaries", len(outcomes))

	return outcomes, nil
}

// New creates a Refresher for manifest.
func New(manifest *config.Manifest, opts *bootstrap.Options, options ...Option) *Refresher {
	r := &Refresher{
		manifest:  manifest,
		opts:      opts,
		processes: ps.Processes,
	}

	for _, option := range options {
		option(r)
	}

	r.provisioner = binary.NewProvisioner(
		binary.WithHTTPClient(r.httpClient),
		binary.WithUserAgent(version.UserAgent()),
	)

	return r
}

// Refresh resolves the environment like a provisioning run does and brings
// every binary to its pinned version. It stops at the first failure and
// returns the outcomes reached so far.
func (r *Refresher) Refresh(ctx context.Context) ([]Outcome, error) {
	resolved, err := bootstrap.ResolveEnvironment(ctx, r.manifest, r.opts)
	if err != nil {
		return nil, fmt.Errorf("resolve environment: %w", err)
	}

	descriptors := binary.DescriptorsFor(r.manifest.Binaries, resolved.BinaryDir)
	outcomes := make([]Outcome, 0, len(descriptors))

	for _, descriptor := range descriptors {
		action, err := r.refreshOne(logger.WithKV(ctx, "binary", descriptor.Name), descriptor)
		if err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, Outcome{Name: descriptor.Name, Path: descriptor.InstallPath, Action: action})
	}

	return outcomes, nil
}

// refreshOne handles a single binary.
func (r *Refresher) refreshOne(ctx context.Context, descriptor binary.Descriptor) (Action, error) {
	present, err := binary.Exists(descriptor.InstallPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", descriptor.Name, err)
	}

	if !present {
		if _, err = r.provisioner.Ensure(ctx, descriptor); err != nil {
			return "", err
		}

		return ActionFetched, nil
	}

	expected := strings.TrimSpace(descriptor.ExpectedChecksum)
	if expected == "" {
		logger.Info(ctx, "No checksum pinned, leaving the binary as is")
		return ActionUnpinned, nil
	}

	algorithm := algorithmOf(descriptor)

	current, err := binary.FileDigest(descriptor.InstallPath, algorithm)
	if err != nil {
		return "", fmt.Errorf("%s: %w", descriptor.Name, err)
	}

	if strings.EqualFold(current, expected) {
		logger.InfoKV(ctx, "Binary matches its pinned checksum", "digest", current)
		return ActionCurrent, nil
	}

	if err = r.ensureIdle(descriptor); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Binary drifted from its pinned checksum, replacing",
		"expected", expected, "current", current, "url", descriptor.SourceURL)

	data, err := r.provisioner.Fetch(ctx, descriptor.SourceURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", descriptor.Name, err)
	}

	if err = apply(descriptor.InstallPath, data, algorithm, expected); err != nil {
		return "", fmt.Errorf("%s: %w", descriptor.Name, err)
	}

	logger.InfoKV(ctx, "Binary replaced", "path", descriptor.InstallPath)

	return ActionReplaced, nil
}

// ensureIdle fails when a running process executes the binary.
func (r *Refresher) ensureIdle(descriptor binary.Descriptor) error {
	processList, err := r.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	name := filepath.Base(descriptor.InstallPath)
	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == name {
			return fmt.Errorf("%w: %s is executed by process %d", ErrBusy, descriptor.Name, process.Pid())
		}
	}

	return nil
}

// apply validates data against the pinned digest and swaps it into path.
func apply(path string, data []byte, algorithm, expected string) error {
	digest, err := binary.BytesDigest(data, algorithm)
	if err != nil {
		return err
	}

	if !strings.EqualFold(digest, expected) {
		return fmt.Errorf("%w: downloaded artifact has %s digest %s, pinned %s",
			binary.ErrIntegrity, algorithm, digest, expected)
	}

	options := goupdate.Options{
		TargetPath: path,
		TargetMode: binary.StagedFileMode | binary.ExecuteBits,
	}

	if hash, ok := cryptoHashes[algorithm]; ok {
		checksum, decodeErr := hex.DecodeString(strings.ToLower(expected))
		if decodeErr != nil {
			return fmt.Errorf("%w: pinned checksum %s is not hex: %w", binary.ErrIntegrity, expected, decodeErr)
		}

		options.Checksum = checksum
		options.Hash = hash
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	return nil
}

// algorithmOf returns the descriptor algorithm or the default one.
func algorithmOf(descriptor binary.Descriptor) string {
	if descriptor.Algorithm == "" {
		return config.DefaultAlgorithm
	}

	return descriptor.Algorithm
}
