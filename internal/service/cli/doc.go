// Package cli installs the astra-web-cli companion tool.
//
// The tool ships as a template containing a placeholder for the installation
// root. Install renders the template once and writes the result next to the
// engine binaries; SmokeTest runs the installed tool with the resolved
// environment to prove it works.
package cli
