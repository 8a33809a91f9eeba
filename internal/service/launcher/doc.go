// Package launcher hands the process over to the ASTRA web server.
//
// The server command is resolved against the PATH of the resolved environment
// and started by replacing the current process image, so the server inherits
// the process id and the signals meant for the provisioner.
package launcher
