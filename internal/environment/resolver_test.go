package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/astra-bootstrap/internal/logger"
)

// writeConfig writes contents to a config file inside a temporary directory.
func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

// observedContext returns a context whose logger records entries in memory.
func observedContext() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.ToContext(context.Background(), zap.New(core).Sugar()), logs
}

// TestResolve_ProcessValuesAreNeverOverridden checks precedence for many key/value combinations.
func TestResolve_ProcessValuesAreNeverOverridden(t *testing.T) {
	t.Parallel()

	processEnv := map[string]string{
		"ASTRA_BINARY_PATH": "/opt/astra/bin",
		"PORT":              "8080",
		"EMPTY":             "",
	}

	var contents string
	for i := range 20 {
		for key := range processEnv {
			contents += fmt.Sprintf("%s=\"file-%d\"\n", key, i)
		}
	}

	contents += "ONLY_IN_FILE='from-file'\n"

	ctx, logs := observedContext()

	env, err := Resolve(ctx, writeConfig(t, contents), processEnv, nil, map[string]string{"PORT": "1"})
	require.NoError(t, err)

	for key, value := range processEnv {
		got, ok := env.Lookup(key)
		require.True(t, ok)
		require.Equal(t, value, got, key)

		origin, _ := env.Origin(key)
		require.Equal(t, OriginProcess, origin)
	}

	require.Equal(t, "from-file", env.Get("ONLY_IN_FILE"))
	require.Len(t, env.Conflicts(), 20*len(processEnv))
	require.Equal(t, 20*len(processEnv), logs.FilterMessageSnippet("ignoring config file value").Len())
}

// TestResolve_QuotedPortFromFile mirrors a config file that pins the port.
func TestResolve_QuotedPortFromFile(t *testing.T) {
	t.Parallel()

	env, err := Resolve(
		context.Background(),
		writeConfig(t, "PORT=\"9000\"\n"),
		map[string]string{"ASTRA_BINARY_PATH": "/bin"},
		[]string{"PORT"},
		map[string]string{"PORT": "8000"},
	)
	require.NoError(t, err)
	require.Equal(t, "9000", env.Get("PORT"))

	origin, ok := env.Origin("PORT")
	require.True(t, ok)
	require.Equal(t, OriginFile, origin)
	require.Empty(t, env.Conflicts())
}

// TestResolve_DefaultsOnlyFillUnboundKeys verifies defaults never shadow process or file values.
func TestResolve_DefaultsOnlyFillUnboundKeys(t *testing.T) {
	t.Parallel()

	env, err := Resolve(
		context.Background(),
		writeConfig(t, "FROM_FILE=file\n"),
		map[string]string{"FROM_PROCESS": "process"},
		nil,
		map[string]string{
			"FROM_PROCESS": "default",
			"FROM_FILE":    "default",
			"ONLY_DEFAULT": "default",
		},
	)
	require.NoError(t, err)
	require.Equal(t, "process", env.Get("FROM_PROCESS"))
	require.Equal(t, "file", env.Get("FROM_FILE"))
	require.Equal(t, "default", env.Get("ONLY_DEFAULT"))

	origin, _ := env.Origin("ONLY_DEFAULT")
	require.Equal(t, OriginDefault, origin)
}

// TestResolve_MissingRequiredKeys ensures all missing keys are named in order.
func TestResolve_MissingRequiredKeys(t *testing.T) {
	t.Parallel()

	_, err := Resolve(
		context.Background(),
		"",
		map[string]string{"ASTRA_DATA_PATH": "/data"},
		[]string{"ASTRA_BINARY_PATH", "ASTRA_DATA_PATH", "API_KEY"},
		nil,
	)
	require.ErrorIs(t, err, ErrMissingVariable)
	require.Contains(t, err.Error(), "ASTRA_BINARY_PATH, API_KEY")
}

// TestResolve_MissingConfigFileIsEmpty treats an absent file as having no entries.
func TestResolve_MissingConfigFileIsEmpty(t *testing.T) {
	t.Parallel()

	ctx, logs := observedContext()

	env, err := Resolve(
		ctx,
		filepath.Join(t.TempDir(), "absent.env"),
		map[string]string{"A": "1"},
		[]string{"A"},
		nil,
	)
	require.NoError(t, err)
	require.Equal(t, 1, env.Len())
	require.Equal(t, 1, logs.FilterMessageSnippet("Config file not found").Len())
}

// TestResolve_UnreadableConfigFile reports a directory passed as config file.
func TestResolve_UnreadableConfigFile(t *testing.T) {
	t.Parallel()

	_, err := Resolve(context.Background(), t.TempDir(), nil, nil, nil)
	require.ErrorIs(t, err, ErrConfigFile)
}

// TestResolve_RedactsSensitiveValues makes sure discarded secrets are not logged.
func TestResolve_RedactsSensitiveValues(t *testing.T) {
	t.Parallel()

	ctx, logs := observedContext()

	env, err := Resolve(
		ctx,
		writeConfig(t, "API_KEY=file-secret\n"),
		map[string]string{"API_KEY": "process-secret"},
		[]string{"API_KEY"},
		nil,
		WithSensitiveKeys("API_KEY"),
	)
	require.NoError(t, err)
	require.Equal(t, "process-secret", env.Get("API_KEY"))

	conflicts := logs.FilterMessageSnippet("ignoring config file value").All()
	require.Len(t, conflicts, 1)
	require.Equal(t, redactedValue, conflicts[0].ContextMap()["discarded"])
}

// TestResolve_LaterFileLinesWin checks duplicate keys inside the config file.
func TestResolve_LaterFileLinesWin(t *testing.T) {
	t.Parallel()

	env, err := Resolve(context.Background(), writeConfig(t, "A=1\nA=2\n"), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "2", env.Get("A"))
}
