// Package bootstrap runs the provisioning pipeline of the ASTRA web service.
//
// The pipeline is an ordered list of fallible steps: resolve the environment,
// provision the engine binaries, verify them, install the CLI tool and launch
// the server. The first failing step aborts the run; nothing is retried.
package bootstrap
