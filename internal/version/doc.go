// Package version exposes build metadata for astra-bootstrap.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Short, Full and UserAgent render them for the CLI, logs and
// download requests.
package version
