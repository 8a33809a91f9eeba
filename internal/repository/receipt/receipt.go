package receipt

import "time"

// Receipt records what a successful provisioning run installed.
type Receipt struct {
	// RunID identifies the provisioning run in logs.
	RunID string
	// CreatedAt is when the receipt was written.
	CreatedAt time.Time
	// Host is the machine the run happened on.
	Host Host
	// Port is the port the server was launched with.
	Port int
	// Binaries lists the engine binaries in manifest order.
	Binaries []Binary
	// CLIPath is the installed companion tool.
	CLIPath string
	// Conflicts lists the keys whose config file values lost to the process environment.
	Conflicts []string
}

// Host describes the provisioning machine.
type Host struct {
	Hostname string
	Username string
	Platform string
	Arch     string
}

// Binary records one provisioned engine binary.
type Binary struct {
	Name string
	Path string
	// Origin is "present" or "fetched".
	Origin string
	// Algorithm and Digest are empty when the binary was not verified.
	Algorithm string
	Digest    string
}
