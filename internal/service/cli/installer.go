package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/astra-bootstrap/internal/environment"
	"github.com/oshokin/astra-bootstrap/internal/logger"
	"github.com/oshokin/astra-bootstrap/internal/service/binary"
)

var (
	// ErrInstall is returned when the CLI tool cannot be rendered or written.
	ErrInstall = errors.New("cli install failed")
	// ErrSmokeTest is returned when the installed CLI tool does not run successfully.
	ErrSmokeTest = errors.New("cli smoke test failed")
)

// Template describes where the CLI template lives and where it is installed.
type Template struct {
	// TemplatePath is the template file.
	TemplatePath string
	// InstallPath is the final location of the rendered tool.
	InstallPath string
	// Placeholder is the token replaced with the installation root.
	Placeholder string
}

// Installer renders and installs the CLI tool.
type Installer struct {
	// root is the absolute installation directory substituted into the template.
	root string
}

// NewInstaller creates an Installer for the given installation root.
// A relative root is made absolute.
func NewInstaller(root string) (*Installer, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root %s: %w", ErrInstall, root, err)
	}

	return &Installer{root: absRoot}, nil
}

// Root returns the absolute installation directory.
func (i *Installer) Root() string {
	return i.root
}

// Install renders the template into tmpl.InstallPath when nothing is installed there yet.
// An already installed tool is left untouched. It returns the install path.
func (i *Installer) Install(ctx context.Context, tmpl Template) (string, error) {
	ctx = logger.WithKV(ctx, "cli", filepath.Base(tmpl.InstallPath))

	present, err := binary.Exists(tmpl.InstallPath)
	if err != nil {
		return "", fmt.Errorf("%w: stat %s: %w", ErrInstall, tmpl.InstallPath, err)
	}

	if present {
		logger.InfoKV(ctx, "CLI tool already installed", "path", tmpl.InstallPath)
		return tmpl.InstallPath, nil
	}

	source, err := os.ReadFile(filepath.Clean(tmpl.TemplatePath))
	if err != nil {
		return "", fmt.Errorf("%w: read template: %w", ErrInstall, err)
	}

	rendered := Render(source, InstallContext{Root: i.root}, tmpl.Placeholder)

	if err = binary.WriteAtomically(tmpl.InstallPath, bytes.NewReader(rendered)); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInstall, tmpl.InstallPath, err)
	}

	logger.InfoKV(ctx, "CLI tool installed",
		"template", tmpl.TemplatePath,
		"path", tmpl.InstallPath,
		"root", i.root)

	return tmpl.InstallPath, nil
}

// SmokeTest runs the installed tool with args and the resolved environment.
// A non-zero exit or a failure to start is reported together with the combined output.
func (i *Installer) SmokeTest(ctx context.Context, installedPath string, args []string, env *environment.Environment) error {
	//nolint:gosec // The path comes from the manifest and the arguments are fixed.
	cmd := exec.CommandContext(ctx, installedPath, args...)
	cmd.Dir = i.root

	if env != nil {
		cmd.Env = env.Environ()
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w: %s",
			ErrSmokeTest, installedPath, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}

	logger.DebugKV(ctx, "CLI smoke test passed", "path", installedPath, "output_bytes", len(output))

	return nil
}
