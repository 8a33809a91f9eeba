package binary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/logger"
)

// ErrIntegrity is returned when an installed binary does not match its pinned digest.
var ErrIntegrity = errors.New("integrity check failed")

// Result describes the outcome of a verification.
type Result struct {
	// Checked is false when verification was disabled or no digest is pinned.
	Checked bool
	// Algorithm is the digest algorithm used.
	Algorithm string
	// Digest is the computed hex digest; empty when nothing was checked.
	Digest string
}

// Verifier compares installed binaries with their pinned digests.
type Verifier struct {
	// toggleVar names the variable that disables the check; it appears in mismatch messages.
	toggleVar string
}

// NewVerifier creates a Verifier. toggleVar is the variable operators set to
// turn the check off and is only used for diagnostics.
func NewVerifier(toggleVar string) *Verifier {
	return &Verifier{toggleVar: toggleVar}
}

// Verify checks the file at descriptor.InstallPath against descriptor.ExpectedChecksum.
// It does nothing when enabled is false. Digests are compared case-insensitively.
func (v *Verifier) Verify(ctx context.Context, descriptor Descriptor, enabled bool) (*Result, error) {
	if !enabled {
		return &Result{}, nil
	}

	ctx = logger.WithKV(ctx, "binary", descriptor.Name)

	expected := strings.TrimSpace(descriptor.ExpectedChecksum)
	if expected == "" {
		logger.Warn(ctx, "Checksum verification is enabled but no checksum is pinned, skipping")
		return &Result{}, nil
	}

	algorithm := descriptor.Algorithm
	if algorithm == "" {
		algorithm = config.DefaultAlgorithm
	}

	computed, err := FileDigest(descriptor.InstallPath, algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIntegrity, descriptor.Name, err)
	}

	if !strings.EqualFold(computed, expected) {
		return nil, fmt.Errorf(
			"%w: %s: expected %s digest %s, computed %s; "+
				"the installed binary is not the pinned version, set %s=false to disable the check",
			ErrIntegrity, descriptor.Name, algorithm, expected, computed, v.toggleVarName(),
		)
	}

	logger.InfoKV(ctx, "Checksum verified", "algorithm", algorithm, "digest", computed)

	return &Result{Checked: true, Algorithm: algorithm, Digest: computed}, nil
}

// toggleVarName returns the configured toggle variable or a generic fallback.
func (v *Verifier) toggleVarName() string {
	if v.toggleVar == "" {
		return "the checksum check variable"
	}

	return v.toggleVar
}
