// Package common holds helpers shared by several services.
//
// It detects the host and account a provisioning run happens on, so the
// receipt can tell operators where a set of binaries was installed.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
