package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"
	"golang.org/x/sys/unix"

	"github.com/oshokin/astra-bootstrap/internal/environment"
	"github.com/oshokin/astra-bootstrap/internal/logger"
)

const (
	// DefaultHost is the bind address passed to the server.
	DefaultHost = "0.0.0.0"

	// listenStatus is the gopsutil status of a listening TCP socket.
	listenStatus = "LISTEN"

	// executeAny matches any execute permission bit.
	executeAny os.FileMode = 0o111
)

var (
	// ErrLaunch is returned when the server cannot be started.
	ErrLaunch = errors.New("launch failed")

	errEmptyCommand       = errors.New("server command is empty")
	errInvalidPort        = errors.New("port must be between 1 and 65535")
	errPortInUse          = errors.New("port is already in use")
	errExecutableNotFound = errors.New("executable not found")
)

// ExecFunc replaces the current process image. On success it does not return.
type ExecFunc func(argv0 string, argv, envv []string) error

// PortProbe reports whether a local TCP listener already owns port.
type PortProbe func(ctx context.Context, port int) (bool, error)

// Option configures a Launcher.
type Option func(*Launcher)

// WithExecFunc replaces the function used to start the server.
func WithExecFunc(fn ExecFunc) Option {
	return func(l *Launcher) {
		if fn != nil {
			l.exec = fn
		}
	}
}

// WithPortProbe replaces the listener lookup used before launch.
func WithPortProbe(probe PortProbe) Option {
	return func(l *Launcher) {
		if probe != nil {
			l.portInUse = probe
		}
	}
}

// WithDir makes the server start in dir.
func WithDir(dir string) Option {
	return func(l *Launcher) {
		l.dir = dir
	}
}

// WithHost overrides the bind address.
func WithHost(host string) Option {
	return func(l *Launcher) {
		if host != "" {
			l.host = host
		}
	}
}

// Launcher starts the long-running web server.
type Launcher struct {
	// command is the server executable followed by its fixed arguments.
	command []string
	// host is passed as --host.
	host string
	// dir is the working directory of the server; empty keeps the current one.
	dir string
	// exec replaces the process image.
	exec ExecFunc
	// portInUse checks the port before the hand-off.
	portInUse PortProbe
}

// New creates a Launcher for the server command.
func New(command []string, opts ...Option) *Launcher {
	l := &Launcher{
		command:   command,
		host:      DefaultHost,
		exec:      unix.Exec,
		portInUse: ListeningOn,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Argv returns the full server command line for port.
func (l *Launcher) Argv(port int) []string {
	argv := make([]string, 0, len(l.command)+4)
	argv = append(argv, l.command...)

	return append(argv, "--host", l.host, "--port", strconv.Itoa(port))
}

// Launch resolves the server executable, checks the port and replaces the
// current process with the server. With the default exec function it only
// returns on failure.
func (l *Launcher) Launch(ctx context.Context, env *environment.Environment, port int) error {
	if len(l.command) == 0 || l.command[0] == "" {
		return fmt.Errorf("%w: %w", ErrLaunch, errEmptyCommand)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d: %w", ErrLaunch, port, errInvalidPort)
	}

	path, err := LookPath(l.command[0], env.Get("PATH"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	busy, err := l.portInUse(ctx, port)
	switch {
	case err != nil:
		logger.WarnKV(ctx, "Unable to inspect listening sockets, launching anyway", "port", port, "error", err)
	case busy:
		return fmt.Errorf("%w: %d: %w", ErrLaunch, port, errPortInUse)
	}

	if path, err = filepath.Abs(path); err != nil {
		return fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	argv := l.Argv(port)

	if l.dir != "" {
		if err = os.Chdir(l.dir); err != nil {
			return fmt.Errorf("%w: %w", ErrLaunch, err)
		}
	}

	logger.InfoKV(ctx, "Handing over to the server",
		"path", path, "argv", strings.Join(argv, " "), "dir", l.dir)
	logger.Sync()

	if err = l.exec(path, argv, env.Environ()); err != nil {
		return fmt.Errorf("%w: exec %s: %w", ErrLaunch, path, err)
	}

	return nil
}

// LookPath finds an executable named file in the directories of pathList.
// Names containing a slash are checked as is.
func LookPath(file, pathList string) (string, error) {
	if strings.Contains(file, "/") {
		if isExecutable(file) {
			return file, nil
		}

		return "", fmt.Errorf("%s: %w", file, errExecutableNotFound)
	}

	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			dir = "."
		}

		candidate := filepath.Join(dir, file)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%s in PATH %q: %w", file, pathList, errExecutableNotFound)
}

// isExecutable reports whether path is a regular file with any execute bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return info.Mode().IsRegular() && info.Mode().Perm()&executeAny != 0
}

// ListeningOn reports whether a local TCP socket is listening on port.
func ListeningOn(ctx context.Context, port int) (bool, error) {
	connections, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return false, fmt.Errorf("list tcp connections: %w", err)
	}

	return hasListener(connections, port), nil
}

// hasListener reports whether any listening connection is bound to port.
func hasListener(connections []gnet.ConnectionStat, port int) bool {
	for _, connection := range connections {
		if connection.Status == listenStatus && int(connection.Laddr.Port) == port {
			return true
		}
	}

	return false
}
