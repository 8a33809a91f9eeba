package cli

import (
	"bytes"
)

// InstallContext carries the values substituted into the CLI template.
type InstallContext struct {
	// Root is the absolute installation directory of the web service.
	Root string
}

// Render replaces every occurrence of placeholder in template with ctx.Root.
// Everything else is returned byte for byte.
func Render(template []byte, ctx InstallContext, placeholder string) []byte {
	if placeholder == "" {
		return bytes.Clone(template)
	}

	return bytes.ReplaceAll(template, []byte(placeholder), []byte(ctx.Root))
}
