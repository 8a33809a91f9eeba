package bootstrap

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/environment"
	"github.com/oshokin/astra-bootstrap/internal/logger"
)

// maxPort is the highest valid TCP port.
const maxPort = 65535

// Resolved is the outcome of the environment step.
type Resolved struct {
	// Env is the merged, validated environment.
	Env *environment.Environment
	// ConfigFile is the config file that was read, or would have been.
	ConfigFile string
	// Port is the server port.
	Port int
	// BinaryDir is the absolute directory the engine binaries live in.
	BinaryDir string
	// DataDir is the absolute simulation data directory.
	DataDir string
	// ChecksumCheck tells whether binaries are verified.
	ChecksumCheck bool
}

// ResolveEnvironment merges the config file into the caller's environment the
// way a provisioning run does and interprets the variables named by manifest.
// A port given in opts acts as a process-level binding and beats the config file.
func ResolveEnvironment(ctx context.Context, manifest *config.Manifest, opts *Options) (*Resolved, error) {
	opts, err := NormalizeOptions(opts)
	if err != nil {
		return nil, err
	}

	names := manifest.Environment
	workDir := opts.WorkDir

	processEnv := opts.ProcessEnv
	if processEnv == nil {
		processEnv = environment.FromEnviron(os.Environ())
	}

	processEnv = maps.Clone(processEnv)
	if opts.Port != "" {
		processEnv[names.PortVar] = opts.Port
	}

	configFile := opts.EnvFile
	if configFile == "" && names.ConfigFileVar != "" {
		configFile = processEnv[names.ConfigFileVar]
	}

	if configFile == "" {
		configFile = names.ConfigFile
	}

	if configFile != "" {
		configFile = absolute(workDir, configFile)
	}

	logger.InfoKV(ctx, "Resolving environment", "config_file", configFile, "required", names.Required)

	env, err := environment.Resolve(
		ctx,
		configFile,
		processEnv,
		names.Required,
		names.Defaults,
		environment.WithSensitiveKeys(names.Sensitive...),
	)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{Env: env, ConfigFile: configFile}

	if resolved.Port, err = parsePort(env, names.PortVar); err != nil {
		return nil, err
	}

	if resolved.ChecksumCheck, err = env.Bool(names.ChecksumCheckVar, false); err != nil {
		return nil, err
	}

	binaryDir, err := env.Require(names.BinaryDirVar)
	if err != nil {
		return nil, err
	}

	dataDir, err := env.Require(names.DataDirVar)
	if err != nil {
		return nil, err
	}

	resolved.BinaryDir = absolute(workDir, binaryDir)
	resolved.DataDir = absolute(workDir, dataDir)

	// Children see the same directories as the provisioner, whatever their cwd.
	resolved.Env = env.
		Rebind(names.BinaryDirVar, resolved.BinaryDir).
		Rebind(names.DataDirVar, resolved.DataDir)

	return resolved, nil
}

// parsePort reads the port variable; an unbound variable yields the default port.
func parsePort(env *environment.Environment, portVar string) (int, error) {
	raw, ok := env.Lookup(portVar)
	if !ok || raw == "" {
		raw = config.DefaultPort
	}

	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > maxPort {
		return 0, fmt.Errorf("%w: %s=%q is not a port between 1 and %d",
			environment.ErrInvalidValue, portVar, raw, maxPort)
	}

	return port, nil
}

// absolute joins a relative path with workDir.
func absolute(workDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(workDir, path)
}
