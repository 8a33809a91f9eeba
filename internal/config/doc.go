// Package config defines the provisioning manifest: the static description of
// which environment variables the service consumes, which engine binaries must
// be present, how the companion CLI is templated and how the server is started.
//
// Default returns the built-in manifest; Load overlays a YAML file onto it and
// validates the result.
package config
