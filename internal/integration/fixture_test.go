package integration

import (
	"context"
	"crypto/md5" //nolint:gosec // Test fixture digest.
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/astra-bootstrap/internal/config"
	"github.com/oshokin/astra-bootstrap/internal/service/bootstrap"
)

const (
	astraContents     = "astra engine"
	generatorContents = "generator engine"
	cliTemplate       = "#!/bin/sh\n# installed in __ASTRA_WEB_ROOT__\necho \"usage: astra-web-cli (__ASTRA_WEB_ROOT__)\"\n"
)

// execCall captures the hand-off to the server.
type execCall struct {
	called bool
	argv0  string
	argv   []string
	envv   []string
	dir    string
}

// installation is a work directory with a manifest, a CLI template, a server
// stub on PATH and a download server for the engine binaries.
type installation struct {
	workDir    string
	binaryDir  string
	dataDir    string
	manifest   string
	serverPath string
	requests   *atomic.Int32
	processEnv map[string]string
	exec       execCall
}

// newInstallation prepares a fresh installation. Binaries are not installed.
func newInstallation(t *testing.T, mutate func(*config.Manifest)) *installation {
	t.Helper()

	inst := &installation{requests: &atomic.Int32{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/astra", func(w http.ResponseWriter, _ *http.Request) {
		inst.requests.Add(1)
		_, _ = w.Write([]byte(astraContents))
	})
	mux.HandleFunc("/generator", func(w http.ResponseWriter, _ *http.Request) {
		inst.requests.Add(1)
		_, _ = w.Write([]byte(generatorContents))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	inst.workDir = t.TempDir()
	inst.binaryDir = filepath.Join(inst.workDir, "bin")
	inst.dataDir = filepath.Join(inst.workDir, "data")

	pathDir := filepath.Join(inst.workDir, "path")
	require.NoError(t, os.MkdirAll(pathDir, 0o750))

	inst.serverPath = filepath.Join(pathDir, "uvicorn")
	require.NoError(t, os.WriteFile(inst.serverPath, []byte("#!/bin/sh\n"), 0o750))

	require.NoError(t, os.MkdirAll(filepath.Join(inst.workDir, "deploy"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(inst.workDir, "deploy", "astra-web-cli.tmpl"), []byte(cliTemplate), 0o600))

	manifest := config.Default()
	manifest.Binaries[0].URL = server.URL + "/astra"
	manifest.Binaries[1].URL = server.URL + "/generator"

	if mutate != nil {
		mutate(manifest)
	}

	inst.manifest = filepath.Join(inst.workDir, config.DefaultManifestFilename)
	require.NoError(t, config.Save(inst.manifest, manifest))

	inst.processEnv = map[string]string{
		"PATH":              pathDir,
		"ASTRA_BINARY_PATH": inst.binaryDir,
		"ASTRA_DATA_PATH":   inst.dataDir,
		"API_KEY":           "secret",
	}

	return inst
}

// writeConfig stores contents as the .env file of the installation.
func (inst *installation) writeConfig(t *testing.T, contents string) {
	t.Helper()

	require.NoError(t, os.WriteFile(filepath.Join(inst.workDir, ".env"), []byte(contents), 0o600))
}

// installBinaries places both engine binaries as if a previous run fetched them.
func (inst *installation) installBinaries(t *testing.T) {
	t.Helper()

	require.NoError(t, os.MkdirAll(inst.binaryDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(inst.binaryDir, "astra"), []byte(astraContents), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(inst.binaryDir, "generator"), []byte(generatorContents), 0o750))
}

// cliPath is where the CLI tool gets installed.
func (inst *installation) cliPath() string {
	return filepath.Join(inst.binaryDir, "astra-web-cli")
}

// pipeline creates a pipeline with a recording exec function and a free port.
// The test starts outside the work directory, and its cwd is restored afterwards.
func (inst *installation) pipeline(t *testing.T, port string) *bootstrap.Pipeline {
	t.Helper()
	t.Chdir(t.TempDir())

	p, err := bootstrap.New(
		&bootstrap.Options{
			ManifestPath: inst.manifest,
			Port:         port,
			WorkDir:      inst.workDir,
			ProcessEnv:   inst.processEnv,
		},
		bootstrap.WithExecFunc(func(argv0 string, argv, envv []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			inst.exec = execCall{called: true, argv0: argv0, argv: argv, envv: envv, dir: dir}

			return nil
		}),
		bootstrap.WithPortProbe(func(_ context.Context, _ int) (bool, error) {
			return false, nil
		}),
	)
	require.NoError(t, err)

	return p
}

// md5Hex returns the MD5 digest of contents.
func md5Hex(contents string) string {
	sum := md5.Sum([]byte(contents)) //nolint:gosec // Test fixture digest.
	return hex.EncodeToString(sum[:])
}

// exists reports whether path exists.
func exists(t *testing.T, path string) bool {
	t.Helper()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}

	require.NoError(t, err)

	return true
}
