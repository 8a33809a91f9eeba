// Package environment resolves the process environment handed to every
// provisioning stage and to the launched server.
//
// Values come from three origins with strict precedence: variables exported by
// the caller, then a KEY=VALUE config file, then manifest defaults. A caller
// value is never replaced; a file value that loses to it is only logged.
package environment
