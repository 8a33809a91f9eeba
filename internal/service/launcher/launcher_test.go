package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/astra-bootstrap/internal/environment"
)

// execCall captures what a fake exec received.
type execCall struct {
	argv0 string
	argv  []string
	envv  []string
}

// fakeExec records the call instead of replacing the process.
func fakeExec(call *execCall, result error) ExecFunc {
	return func(argv0 string, argv, envv []string) error {
		call.argv0 = argv0
		call.argv = argv
		call.envv = envv

		return result
	}
}

// freePort never reports a listener.
func freePort(context.Context, int) (bool, error) {
	return false, nil
}

// installServer places an executable uvicorn stub in a fresh directory.
func installServer(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uvicorn"), []byte("#!/bin/sh\n"), 0o750))

	return dir
}

// TestLaunch_BuildsArgvAndEnvironment checks the exact hand-off.
func TestLaunch_BuildsArgvAndEnvironment(t *testing.T) {
	t.Parallel()

	dir := installServer(t)
	env := environment.New(
		environment.Variable{Key: "PATH", Value: "/nonexistent:" + dir, Origin: environment.OriginProcess},
		environment.Variable{Key: "API_KEY", Value: "k", Origin: environment.OriginFile},
	)

	var call execCall

	l := New([]string{"uvicorn", "astra_web.main:app"}, WithExecFunc(fakeExec(&call, nil)), WithPortProbe(freePort))
	require.NoError(t, l.Launch(context.Background(), env, 9000))

	require.Equal(t, filepath.Join(dir, "uvicorn"), call.argv0)
	require.Equal(t, []string{"uvicorn", "astra_web.main:app", "--host", "0.0.0.0", "--port", "9000"}, call.argv)
	require.Equal(t, []string{"API_KEY=k", "PATH=/nonexistent:" + dir}, call.envv)
}

// TestLaunch_StartsInDirectory changes into the configured directory before exec.
// It changes the process cwd, so it does not run in parallel.
func TestLaunch_StartsInDirectory(t *testing.T) {
	t.Chdir(t.TempDir())

	dir := installServer(t)
	workDir := t.TempDir()
	env := environment.New(environment.Variable{Key: "PATH", Value: dir})

	var (
		call execCall
		cwd  string
	)

	record := fakeExec(&call, nil)

	l := New([]string{"uvicorn"}, WithDir(workDir), WithPortProbe(freePort),
		WithExecFunc(func(argv0 string, argv, envv []string) error {
			var err error

			cwd, err = os.Getwd()
			require.NoError(t, err)

			return record(argv0, argv, envv)
		}))
	require.NoError(t, l.Launch(context.Background(), env, 8000))

	expected, err := filepath.EvalSymlinks(workDir)
	require.NoError(t, err)

	actual, err := filepath.EvalSymlinks(cwd)
	require.NoError(t, err)

	require.Equal(t, expected, actual)
	require.Equal(t, filepath.Join(dir, "uvicorn"), call.argv0)
}

// TestLaunch_Failures covers every refusal path.
func TestLaunch_Failures(t *testing.T) {
	t.Parallel()

	dir := installServer(t)
	env := environment.New(environment.Variable{Key: "PATH", Value: dir})

	busy := func(context.Context, int) (bool, error) { return true, nil }

	cases := map[string]struct {
		launcher *Launcher
		port     int
		env      *environment.Environment
	}{
		"empty command": {launcher: New(nil, WithPortProbe(freePort)), port: 8000, env: env},
		"port zero":     {launcher: New([]string{"uvicorn"}, WithPortProbe(freePort)), port: 0, env: env},
		"port too big":  {launcher: New([]string{"uvicorn"}, WithPortProbe(freePort)), port: 70000, env: env},
		"not on path": {
			launcher: New([]string{"uvicorn"}, WithPortProbe(freePort)),
			port:     8000,
			env:      environment.New(environment.Variable{Key: "PATH", Value: t.TempDir()}),
		},
		"port busy": {launcher: New([]string{"uvicorn"}, WithPortProbe(busy)), port: 8000, env: env},
		"missing directory": {
			launcher: New([]string{"uvicorn"}, WithDir(filepath.Join(dir, "missing")),
				WithPortProbe(freePort), WithExecFunc(fakeExec(&execCall{}, nil))),
			port: 8000,
			env:  env,
		},
		"exec fails": {
			launcher: New([]string{"uvicorn"},
				WithPortProbe(freePort), WithExecFunc(fakeExec(&execCall{}, errors.New("permission denied")))),
			port: 8000,
			env:  env,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := tc.launcher.Launch(context.Background(), tc.env, tc.port)
			require.ErrorIs(t, err, ErrLaunch)
		})
	}
}

// TestLaunch_ProbeErrorIsNotFatal launches when the socket table is unreadable.
func TestLaunch_ProbeErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	dir := installServer(t)
	env := environment.New(environment.Variable{Key: "PATH", Value: dir})

	var call execCall

	l := New([]string{"uvicorn"},
		WithHost("127.0.0.1"),
		WithExecFunc(fakeExec(&call, nil)),
		WithPortProbe(func(context.Context, int) (bool, error) { return false, errors.New("no /proc") }))
	require.NoError(t, l.Launch(context.Background(), env, 8000))
	require.Equal(t, []string{"uvicorn", "--host", "127.0.0.1", "--port", "8000"}, call.argv)
}

// TestLookPath resolves bare names through the list and checks slashed names directly.
func TestLookPath(t *testing.T) {
	t.Parallel()

	dir := installServer(t)
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("data"), 0o600))

	path, err := LookPath("uvicorn", "/nonexistent:"+dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "uvicorn"), path)

	path, err = LookPath(filepath.Join(dir, "uvicorn"), "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "uvicorn"), path)

	_, err = LookPath("plain", dir)
	require.ErrorIs(t, err, errExecutableNotFound)

	_, err = LookPath(plain, "")
	require.ErrorIs(t, err, errExecutableNotFound)

	_, err = LookPath("uvicorn", "")
	require.ErrorIs(t, err, errExecutableNotFound)
}

// TestHasListener matches only listening sockets on the port.
func TestHasListener(t *testing.T) {
	t.Parallel()

	connections := []gnet.ConnectionStat{
		{Status: "ESTABLISHED", Laddr: gnet.Addr{IP: "127.0.0.1", Port: 8000}},
		{Status: "LISTEN", Laddr: gnet.Addr{IP: "0.0.0.0", Port: 5432}},
	}

	require.False(t, hasListener(connections, 8000))
	require.True(t, hasListener(connections, 5432))
	require.False(t, hasListener(nil, 5432))
}
