package binary

import (
	"path/filepath"

	"github.com/oshokin/astra-bootstrap/internal/config"
)

// Descriptor describes one engine binary for a single provisioning run.
type Descriptor struct {
	// Name is the logical binary name.
	Name string
	// SourceURL is where the binary is fetched from when absent.
	SourceURL string
	// ExpectedChecksum is the optional pinned hex digest.
	ExpectedChecksum string
	// Algorithm is the digest algorithm of ExpectedChecksum.
	Algorithm string
	// InstallPath is the final location of the binary.
	InstallPath string
}

// Origin tells whether Ensure found the binary or fetched it.
type Origin string

const (
	// OriginPresent means the file already existed at InstallPath.
	OriginPresent Origin = "present"
	// OriginFetched means the file was downloaded during this run.
	OriginFetched Origin = "fetched"
)

// Installed is the outcome of Ensure.
type Installed struct {
	// Path is the final location of the binary.
	Path string
	// Origin tells how the binary got there.
	Origin Origin
}

// DescriptorsFor builds descriptors for every manifest binary inside binaryDir.
func DescriptorsFor(binaries []config.Binary, binaryDir string) []Descriptor {
	descriptors := make([]Descriptor, 0, len(binaries))

	for _, b := range binaries {
		descriptors = append(descriptors, Descriptor{
			Name:             b.Name,
			SourceURL:        b.URL,
			ExpectedChecksum: b.Checksum,
			Algorithm:        b.Algorithm,
			InstallPath:      filepath.Join(binaryDir, b.Name),
		})
	}

	return descriptors
}
