package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/logger"
	"github.com/oshokin/astra-bootstrap/internal/repository/receipt"
	"github.com/oshokin/astra-bootstrap/internal/service/binary"
	"github.com/oshokin/astra-bootstrap/internal/service/cli"
	"github.com/oshokin/astra-bootstrap/internal/service/common"
	"github.com/oshokin/astra-bootstrap/internal/service/launcher"
	"github.com/oshokin/astra-bootstrap/internal/version"
)

// DataSubdirectories are created inside the data directory before launch.
//
//nolint:gochecknoglobals // Read-only list.
var DataSubdirectories = []string{"generator", "simulation", "field"}

// errOptionsAreNotSet is returned when Run is called without options.
var errOptionsAreNotSet = errors.New("options are not set")

// Options are inputs accepted by the pipeline entry point.
type Options struct {
	// ManifestPath is the optional YAML manifest; empty means built-in defaults.
	ManifestPath string
	// EnvFile overrides the config file path from the environment and manifest.
	EnvFile string
	// Port overrides the port variable when not empty.
	Port string
	// WorkDir is the installation root; empty means the current directory.
	WorkDir string
	// ProcessEnv is the caller's environment; nil means os.Environ.
	ProcessEnv map[string]string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient replaces the client used to download binaries.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		p.httpClient = client
	}
}

// WithExecFunc replaces the function that hands the process over to the server.
func WithExecFunc(fn launcher.ExecFunc) Option {
	return func(p *Pipeline) {
		p.execFunc = fn
	}
}

// WithPortProbe replaces the listener lookup done before launch.
func WithPortProbe(probe launcher.PortProbe) Option {
	return func(p *Pipeline) {
		p.portProbe = probe
	}
}

// step is one fallible pipeline stage.
type step struct {
	// name prefixes errors returned by run.
	name string
	// reached is the stage entered when run succeeds.
	reached Stage
	run     func(ctx context.Context) error
}

// Pipeline holds the state of a single provisioning run.
type Pipeline struct {
	manifest *config.Manifest
	opts     Options
	runID    string
	stage    Stage

	httpClient *http.Client
	execFunc   launcher.ExecFunc
	portProbe  launcher.PortProbe

	resolved    *Resolved
	descriptors []binary.Descriptor
	binaries    []receipt.Binary
	cliPath     string
}

// Run loads the manifest, runs the pipeline and hands over to the server.
// With the default exec function it only returns on failure.
func Run(ctx context.Context, opts *Options, options ...Option) error {
	ctx = logger.WithName(ctx, version.Name)

	p, err := New(opts, options...)
	if err != nil {
		logger.ErrorKV(ctx, "Provisioning failed", "stage", StageAborted.String(), "error", err)
		return err
	}

	return p.Run(ctx)
}

// New creates a pipeline from opts, loading the manifest it names.
func New(opts *Options, options ...Option) (*Pipeline, error) {
	if opts == nil {
		return nil, errOptionsAreNotSet
	}

	manifest, err := config.Load(opts.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	return NewWithManifest(manifest, opts, options...)
}

// NewWithManifest creates a pipeline for an already loaded manifest.
func NewWithManifest(manifest *config.Manifest, opts *Options, options ...Option) (*Pipeline, error) {
	if opts == nil {
		return nil, errOptionsAreNotSet
	}

	normalized, err := NormalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		manifest: manifest,
		opts:     *normalized,
		runID:    uuid.NewString(),
		stage:    StageInit,
	}

	for _, option := range options {
		option(p)
	}

	return p, nil
}

// NormalizeOptions returns a copy of opts with an absolute work directory.
func NormalizeOptions(opts *Options) (*Options, error) {
	normalized := *opts

	workDir := normalized.WorkDir
	if workDir == "" {
		workDir = "."
	}

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work directory %s: %w", workDir, err)
	}

	normalized.WorkDir = absWorkDir

	return &normalized, nil
}

// State returns the current stage of the run.
func (p *Pipeline) State() Stage {
	return p.stage
}

// RunID returns the identifier attached to every log line of the run.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Resolved returns the environment step outcome, or nil before that step.
func (p *Pipeline) Resolved() *Resolved {
	return p.resolved
}

// Run executes every step in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx = logger.WithKV(ctx, "run_id", p.runID)

	steps := []step{
		{name: "resolve environment", reached: StageEnvResolved, run: p.resolveEnvironment},
		{name: "provision binaries", reached: StageBinariesProvisioned, run: p.provisionBinaries},
		{name: "verify binaries", reached: StageVerified, run: p.verifyBinaries},
		{name: "install cli", reached: StageCLIInstalled, run: p.installCLI},
		{name: "launch server", reached: StageLaunched, run: p.launch},
	}

	for _, s := range steps {
		logger.DebugKV(ctx, "Step started", "step", s.name, "stage", p.stage.String())

		if err := s.run(ctx); err != nil {
			p.stage = StageAborted
			err = fmt.Errorf("%s: %w", s.name, err)

			logger.ErrorKV(ctx, "Provisioning failed", "step", s.name, "stage", p.stage.String(), "error", err)

			return err
		}

		p.stage = s.reached
		logger.InfoKV(ctx, "Step completed", "step", s.name, "stage", p.stage.String())
	}

	return nil
}

// resolveEnvironment merges the config file and validates required variables.
func (p *Pipeline) resolveEnvironment(ctx context.Context) error {
	resolved, err := ResolveEnvironment(ctx, p.manifest, &p.opts)
	if err != nil {
		return err
	}

	p.resolved = resolved
	p.descriptors = binary.DescriptorsFor(p.manifest.Binaries, resolved.BinaryDir)

	logger.InfoKV(ctx, "Environment resolved",
		"variables", resolved.Env.Len(),
		"conflicts", len(resolved.Env.Conflicts()),
		"port", resolved.Port,
		"binary_dir", resolved.BinaryDir,
		"checksum_check", resolved.ChecksumCheck)

	return nil
}

// provisionBinaries creates the data directory and makes sure every binary exists.
func (p *Pipeline) provisionBinaries(ctx context.Context) error {
	if err := ensureDataDirectory(p.resolved.DataDir); err != nil {
		return err
	}

	provisioner := binary.NewProvisioner(
		binary.WithHTTPClient(p.httpClient),
		binary.WithUserAgent(version.UserAgent()),
	)

	p.binaries = make([]receipt.Binary, 0, len(p.descriptors))

	for _, descriptor := range p.descriptors {
		installed, err := provisioner.Ensure(ctx, descriptor)
		if err != nil {
			return err
		}

		p.binaries = append(p.binaries, receipt.Binary{
			Name:   descriptor.Name,
			Path:   installed.Path,
			Origin: string(installed.Origin),
		})
	}

	return nil
}

// verifyBinaries checks the pinned digests when the check is enabled.
func (p *Pipeline) verifyBinaries(ctx context.Context) error {
	verifier := binary.NewVerifier(p.manifest.Environment.ChecksumCheckVar)

	if !p.resolved.ChecksumCheck {
		logger.InfoKV(ctx, "Checksum verification disabled",
			"variable", p.manifest.Environment.ChecksumCheckVar)
	}

	for i, descriptor := range p.descriptors {
		result, err := verifier.Verify(ctx, descriptor, p.resolved.ChecksumCheck)
		if err != nil {
			return err
		}

		if result.Checked {
			p.binaries[i].Algorithm = result.Algorithm
			p.binaries[i].Digest = result.Digest
		}
	}

	return nil
}

// installCLI installs and smoke-tests the CLI tool, then writes the receipt.
func (p *Pipeline) installCLI(ctx context.Context) error {
	installer, err := cli.NewInstaller(p.opts.WorkDir)
	if err != nil {
		return err
	}

	path, err := installer.Install(ctx, cli.Template{
		TemplatePath: absolute(p.opts.WorkDir, p.manifest.CLI.Template),
		InstallPath:  filepath.Join(p.resolved.BinaryDir, p.manifest.CLI.Name),
		Placeholder:  p.manifest.CLI.Placeholder,
	})
	if err != nil {
		return err
	}

	if err = installer.SmokeTest(ctx, path, p.manifest.CLI.SmokeArgs, p.resolved.Env); err != nil {
		return err
	}

	p.cliPath = path
	p.writeReceipt(ctx)

	return nil
}

// launch hands the process over to the web server.
func (p *Pipeline) launch(ctx context.Context) error {
	l := launcher.New(
		p.manifest.Server.Command,
		launcher.WithHost(p.manifest.Server.Host),
		launcher.WithDir(p.opts.WorkDir),
		launcher.WithExecFunc(p.execFunc),
		launcher.WithPortProbe(p.portProbe),
	)

	return l.Launch(ctx, p.resolved.Env, p.resolved.Port)
}

// writeReceipt records the run. Failing to write it never aborts the run.
func (p *Pipeline) writeReceipt(ctx context.Context) {
	r := &receipt.Receipt{
		RunID:     p.runID,
		CreatedAt: time.Now(),
		Port:      p.resolved.Port,
		Binaries:  p.binaries,
		CLIPath:   p.cliPath,
	}

	for _, conflict := range p.resolved.Env.Conflicts() {
		r.Conflicts = append(r.Conflicts, conflict.Key)
	}

	host, err := common.DetectHost(ctx)
	if err != nil {
		logger.WarnKV(ctx, "Unable to detect host for the receipt", "error", err)
	} else {
		r.Host = receipt.Host{
			Hostname: host.Hostname,
			Username: host.Username,
			Platform: host.Platform,
			Arch:     host.Arch,
		}
	}

	repository := receipt.NewFileRepository(ReceiptPath(p.manifest, p.opts.WorkDir))
	if err = repository.Save(ctx, r); err != nil {
		logger.WarnKV(ctx, "Unable to write the provisioning receipt", "path", repository.Path(), "error", err)
		return
	}

	logger.InfoKV(ctx, "Provisioning receipt written", "path", repository.Path())
}

// ReceiptPath returns where the receipt of manifest lives for workDir.
func ReceiptPath(manifest *config.Manifest, workDir string) string {
	return absolute(workDir, manifest.ReceiptFile)
}

// ensureDataDirectory creates the data directory and its fixed sub-directories.
func ensureDataDirectory(dataDir string) error {
	for _, sub := range DataSubdirectories {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), binary.DirectoryMode); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}

	return nil
}
