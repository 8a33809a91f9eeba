// Package packager pins the installed engine binaries into a manifest.
//
// It digests every binary found in the binary directory and writes a manifest
// whose checksums match them, so the same set of binaries can be verified on
// other installations with the checksum check turned on.
package packager
