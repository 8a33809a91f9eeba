package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestRender_ReplacesEveryPlaceholder checks that only placeholder bytes change.
func TestRender_ReplacesEveryPlaceholder(t *testing.T) {
	t.Parallel()

	template := []byte("#!/bin/sh\ncd __ROOT__ && exec python -m cli \"$@\" # __ROOT__\n\ttrailing  \n")
	rendered := Render(template, InstallContext{Root: "/srv/astra web"}, "__ROOT__")

	require.Equal(t,
		"#!/bin/sh\ncd /srv/astra web && exec python -m cli \"$@\" # /srv/astra web\n\ttrailing  \n",
		string(rendered))

	back := bytes.ReplaceAll(rendered, []byte("/srv/astra web"), []byte("__ROOT__"))
	require.Equal(t, template, back)
}

// TestRender_NoPlaceholder returns the template unchanged.
func TestRender_NoPlaceholder(t *testing.T) {
	t.Parallel()

	template := []byte("echo hello\n")

	require.Equal(t, template, Render(template, InstallContext{Root: "/x"}, "__ROOT__"))
	require.Equal(t, template, Render(template, InstallContext{Root: "/x"}, ""))
}
