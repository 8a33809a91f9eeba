package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the static configuration of a provisioning run.
type Manifest struct {
	// Environment describes variable names, required keys and defaults.
	Environment Environment `yaml:"environment"`
	// Binaries lists the engine executables that must be present before launch.
	Binaries []Binary `yaml:"binaries"`
	// CLI describes the companion command-line tool template.
	CLI CLI `yaml:"cli"`
	// Server describes how the long-running web server is started.
	Server Server `yaml:"server"`
	// ReceiptFile is where the provisioning receipt is written, relative to the work directory.
	ReceiptFile string `yaml:"receipt_file"`
}

// Environment lists the variables consumed by the provisioner.
type Environment struct {
	// ConfigFileVar names the variable holding the KEY=VALUE config file path.
	ConfigFileVar string `yaml:"config_file_var"`
	// ConfigFile is the config file path used when ConfigFileVar is unset.
	ConfigFile string `yaml:"config_file"`
	// BinaryDirVar names the variable holding the binary installation directory.
	BinaryDirVar string `yaml:"binary_dir_var"`
	// DataDirVar names the variable holding the simulation data directory.
	DataDirVar string `yaml:"data_dir_var"`
	// PortVar names the variable holding the server port.
	PortVar string `yaml:"port_var"`
	// ChecksumCheckVar names the boolean variable toggling integrity checks.
	ChecksumCheckVar string `yaml:"checksum_check_var"`
	// Required is the ordered set of variables whose absence after merge is fatal.
	Required []string `yaml:"required"`
	// Defaults are applied to keys still unbound after the config file pass.
	Defaults map[string]string `yaml:"defaults"`
	// Sensitive lists keys whose values are never written to logs.
	Sensitive []string `yaml:"sensitive"`
}

// UnmarshalYAML replaces the defaults map when the document names it, so a
// manifest can drop built-in defaults instead of only adding to them.
func (e *Environment) UnmarshalYAML(value *yaml.Node) error {
	type plain Environment

	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "defaults" {
				e.Defaults = nil

				break
			}
		}
	}

	return value.Decode((*plain)(e))
}

// Binary describes one engine executable.
type Binary struct {
	// Name is the logical name and the file name inside the binary directory.
	Name string `yaml:"name"`
	// URL is where the binary is fetched from when absent.
	URL string `yaml:"url"`
	// Checksum is the optional pinned hex digest.
	Checksum string `yaml:"checksum,omitempty"`
	// Algorithm is the digest algorithm of Checksum.
	Algorithm string `yaml:"algorithm,omitempty"`
}

// CLI describes the companion tool installed next to the engine binaries.
type CLI struct {
	// Template is the template file path, relative to the work directory.
	Template string `yaml:"template"`
	// Name is the installed file name inside the binary directory.
	Name string `yaml:"name"`
	// Placeholder is replaced by the absolute work directory on install.
	Placeholder string `yaml:"placeholder"`
	// SmokeArgs are passed to the installed tool to check that it works.
	SmokeArgs []string `yaml:"smoke_args"`
}

// Server describes the launched web server.
type Server struct {
	// Command is the executable followed by its fixed arguments.
	Command []string `yaml:"command"`
	// Host is the bind address passed to the server.
	Host string `yaml:"host"`
}

const (
	// DefaultManifestFilename is the conventional manifest filename.
	DefaultManifestFilename = "astra-bootstrap.yaml"

	// DefaultReceiptFilename is the default provisioning receipt filename.
	DefaultReceiptFilename = ".astra-bootstrap-receipt.json"

	// DefaultAlgorithm is the digest algorithm used when a binary does not name one.
	DefaultAlgorithm = "md5"

	// DefaultPort is the server port used when nothing else provides one.
	DefaultPort = "8000"

	// DefaultFilePermissions is the permission used when saving manifests.
	DefaultFilePermissions = 0o644
)

// SupportedAlgorithms lists the digest algorithms accepted in a manifest.
//
//nolint:gochecknoglobals // Read-only lookup table.
var SupportedAlgorithms = []string{"md5", "sha256", "sha512", "blake3"}

var (
	// errManifestIsNotSet is returned when a nil manifest is provided.
	errManifestIsNotSet = errors.New("manifest is not set")
	// errNoBinaries is returned when the manifest lists no binaries.
	errNoBinaries = errors.New("at least one binary must be listed")
	// errInvalidBinaryName is returned for empty names or names with path separators.
	errInvalidBinaryName = errors.New("invalid binary name")
	// errDuplicateBinary is returned when two binaries share a name.
	errDuplicateBinary = errors.New("duplicate binary name")
	// errUnknownAlgorithm is returned for unsupported digest algorithms.
	errUnknownAlgorithm = errors.New("unknown digest algorithm")
	// errEmptyPlaceholder is returned when the CLI placeholder is empty.
	errEmptyPlaceholder = errors.New("cli placeholder must be provided")
	// errNoServerCommand is returned when the server command is empty.
	errNoServerCommand = errors.New("server command must be provided")
	// errMissingVariableName is returned when a required variable name is empty.
	errMissingVariableName = errors.New("variable name must be provided")
)

// Default returns the built-in manifest for the ASTRA web service.
func Default() *Manifest {
	return &Manifest{
		Environment: Environment{
			ConfigFileVar:    "ASTRA_ENV_FILE",
			ConfigFile:       ".env",
			BinaryDirVar:     "ASTRA_BINARY_PATH",
			DataDirVar:       "ASTRA_DATA_PATH",
			PortVar:          "PORT",
			ChecksumCheckVar: "ASTRA_CHECKSUM_CHECK",
			Required:         []string{"ASTRA_BINARY_PATH", "ASTRA_DATA_PATH", "API_KEY"},
			Defaults: map[string]string{
				"PORT":                 DefaultPort,
				"ASTRA_CHECKSUM_CHECK": "false",
			},
			Sensitive: []string{"API_KEY"},
		},
		Binaries: []Binary{
			{
				Name:      "astra",
				URL:       "https://www.desy.de/~mpyflo/Astra_for_64_Bit_Linux/Astra",
				Algorithm: DefaultAlgorithm,
			},
			{
				Name:      "generator",
				URL:       "https://www.desy.de/~mpyflo/Astra_for_64_Bit_Linux/generator",
				Algorithm: DefaultAlgorithm,
			},
		},
		CLI: CLI{
			Template:    "deploy/astra-web-cli.tmpl",
			Name:        "astra-web-cli",
			Placeholder: "__ASTRA_WEB_ROOT__",
			SmokeArgs:   []string{"--help"},
		},
		Server: Server{
			Command: []string{"uvicorn", "astra_web.main:app"},
			Host:    "0.0.0.0",
		},
		ReceiptFile: DefaultReceiptFilename,
	}
}

// Load reads a manifest from path on top of Default and validates it.
// An empty path yields the validated built-in manifest.
func Load(path string) (*Manifest, error) {
	manifest := Default()

	if path != "" {
		contents, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read manifest: %w", err)
		}

		if err = yaml.Unmarshal(contents, manifest); err != nil {
			return nil, fmt.Errorf("unmarshal manifest: %w", err)
		}
	}

	if err := Validate(manifest); err != nil {
		return nil, err
	}

	return manifest, nil
}

// Save writes the manifest to the provided path.
func Save(path string, manifest *Manifest) error {
	if manifest == nil {
		return errManifestIsNotSet
	}

	if path == "" {
		path = DefaultManifestFilename
	}

	if err := Validate(manifest); err != nil {
		return err
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Validate checks the manifest for required fields and fills in defaults.
//
//nolint:cyclop // A flat list of independent checks reads better than helpers.
func Validate(manifest *Manifest) error {
	if manifest == nil {
		return errManifestIsNotSet
	}

	env := &manifest.Environment
	for _, name := range []string{env.BinaryDirVar, env.DataDirVar, env.PortVar, env.ChecksumCheckVar} {
		if strings.TrimSpace(name) == "" {
			return errMissingVariableName
		}
	}

	for _, name := range env.Required {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("required variables: %w", errMissingVariableName)
		}
	}

	if len(manifest.Binaries) == 0 {
		return errNoBinaries
	}

	seen := make(map[string]struct{}, len(manifest.Binaries))

	for i := range manifest.Binaries {
		if err := validateBinary(&manifest.Binaries[i]); err != nil {
			return err
		}

		name := manifest.Binaries[i].Name
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%s: %w", name, errDuplicateBinary)
		}

		seen[name] = struct{}{}
	}

	if manifest.CLI.Placeholder == "" {
		return errEmptyPlaceholder
	}

	if !isPlainName(manifest.CLI.Name) {
		return fmt.Errorf("cli %q: %w", manifest.CLI.Name, errInvalidBinaryName)
	}

	if len(manifest.CLI.SmokeArgs) == 0 {
		manifest.CLI.SmokeArgs = []string{"--help"}
	}

	if len(manifest.Server.Command) == 0 || manifest.Server.Command[0] == "" {
		return errNoServerCommand
	}

	if manifest.Server.Host == "" {
		manifest.Server.Host = "0.0.0.0"
	}

	if manifest.ReceiptFile == "" {
		manifest.ReceiptFile = DefaultReceiptFilename
	}

	return nil
}

// validateBinary checks one binary entry and normalizes its algorithm and checksum.
func validateBinary(binary *Binary) error {
	if !isPlainName(binary.Name) {
		return fmt.Errorf("binary %q: %w", binary.Name, errInvalidBinaryName)
	}

	if _, err := url.ParseRequestURI(binary.URL); err != nil {
		return fmt.Errorf("binary %s: invalid url: %w", binary.Name, err)
	}

	binary.Algorithm = strings.ToLower(strings.TrimSpace(binary.Algorithm))
	if binary.Algorithm == "" {
		binary.Algorithm = DefaultAlgorithm
	}

	if !IsSupportedAlgorithm(binary.Algorithm) {
		return fmt.Errorf("binary %s: %s: %w", binary.Name, binary.Algorithm, errUnknownAlgorithm)
	}

	binary.Checksum = strings.TrimSpace(binary.Checksum)

	return nil
}

// IsSupportedAlgorithm reports whether name is one of SupportedAlgorithms.
func IsSupportedAlgorithm(name string) bool {
	return slices.Contains(SupportedAlgorithms, name)
}

// isPlainName reports whether name is a single, non-empty path element.
func isPlainName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
