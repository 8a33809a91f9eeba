// Package refresh replaces installed engine binaries that drifted from their
// pinned checksums.
//
// Provisioning never re-downloads a binary that fails verification; refresh
// is the explicit operator action that does. The pinned artifact is fetched,
// validated against the pinned digest and swapped in place with go-update.
// Binaries that a running process executes are left alone.
package refresh
