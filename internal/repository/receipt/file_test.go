package receipt

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/astra-bootstrap/internal/config"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))
	r, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, r)
}

// TestFileRepository_SaveLoad ensures Save followed by Load returns the same receipt.
func TestFileRepository_SaveLoad(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "receipt.json")
	repo := NewFileRepository(file)

	want := &Receipt{
		RunID:     "2f1c7f0e-9d57-4a8e-a43b-0b2a1e3c7d11",
		CreatedAt: time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC),
		Host: Host{
			Hostname: "desy-sim-01",
			Username: "astra",
			Platform: "ubuntu",
			Arch:     "x86_64",
		},
		Port: 8000,
		Binaries: []Binary{
			{Name: "astra", Path: "/opt/astra/bin/astra", Origin: "present", Algorithm: "md5", Digest: "0a1b"},
			{Name: "generator", Path: "/opt/astra/bin/generator", Origin: "fetched"},
		},
		CLIPath:   "/opt/astra/bin/astra-web-cli",
		Conflicts: []string{"PORT"},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, got)

	contents, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"run_id"`)
}

// TestFileRepository_SaveReplacesInPlace overwrites an existing receipt and
// leaves no staged files behind, even when the rename fails.
func TestFileRepository_SaveReplacesInPlace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "receipt.json")
	repo := NewFileRepository(file)

	require.NoError(t, repo.Save(context.Background(), &Receipt{RunID: "first", CreatedAt: time.Unix(0, 0).UTC()}))
	require.NoError(t, repo.Save(context.Background(), &Receipt{RunID: "second", CreatedAt: time.Unix(0, 0).UTC()}))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "second", got.RunID)

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(config.DefaultFilePermissions), info.Mode().Perm())

	// A directory in the way makes the rename fail.
	blocked := filepath.Join(dir, "blocked")
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "child"), 0o750))

	err = NewFileRepository(blocked).Save(context.Background(), &Receipt{RunID: "third"})
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	require.ElementsMatch(t, []string{"receipt.json", "blocked"}, names)
}

// TestFileRepository_Errors covers nil receipts and corrupt files.
func TestFileRepository_Errors(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "receipt.json")
	repo := NewFileRepository(file)

	require.ErrorIs(t, repo.Save(context.Background(), nil), errReceiptIsNotSet)

	require.NoError(t, os.WriteFile(file, []byte("not json"), 0o600))

	_, err := repo.Load(context.Background())
	require.Error(t, err)
}
