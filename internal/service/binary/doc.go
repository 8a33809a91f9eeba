// Package binary makes sure the engine executables exist before the server
// starts and, when asked to, that they match a pinned digest.
//
// Provisioner.Ensure never touches the network for a file that is already in
// place. Fetched files are staged under a temporary name in the target
// directory and renamed into place only after the whole body has been written,
// so a failed or interrupted transfer never leaves a file at the final path.
//
// Verifier.Verify compares an installed file with its pinned digest. It is a
// version pin, not a security control, and it never triggers a re-download.
package binary
