// Command astra-bootstrap provisions the ASTRA web service and launches it.
package main

import "github.com/oshokin/astra-bootstrap/cmd/astra-bootstrap/cmd"

func main() {
	cmd.Execute()
}
