package environment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEnvironment_Environ returns sorted KEY=VALUE pairs.
func TestEnvironment_Environ(t *testing.T) {
	t.Parallel()

	env := New(
		Variable{Key: "PORT", Value: "8000", Origin: OriginDefault},
		Variable{Key: "API_KEY", Value: "k", Origin: OriginProcess},
		Variable{Key: "PATH", Value: "/usr/bin", Origin: OriginProcess},
	)

	require.Equal(t, []string{"API_KEY=k", "PATH=/usr/bin", "PORT=8000"}, env.Environ())
	require.Equal(t, []string{"API_KEY", "PATH", "PORT"}, env.Keys())
}

// TestEnvironment_Bool covers defaults, valid and invalid booleans.
func TestEnvironment_Bool(t *testing.T) {
	t.Parallel()

	env := New(
		Variable{Key: "ON", Value: "true"},
		Variable{Key: "OFF", Value: " 0 "},
		Variable{Key: "BLANK", Value: ""},
		Variable{Key: "BAD", Value: "maybe"},
	)

	value, err := env.Bool("ON", false)
	require.NoError(t, err)
	require.True(t, value)

	value, err = env.Bool("OFF", true)
	require.NoError(t, err)
	require.False(t, value)

	value, err = env.Bool("BLANK", true)
	require.NoError(t, err)
	require.True(t, value)

	value, err = env.Bool("UNSET", false)
	require.NoError(t, err)
	require.False(t, value)

	_, err = env.Bool("BAD", false)
	require.ErrorIs(t, err, ErrInvalidValue)
}

// TestEnvironment_Require names the missing key.
func TestEnvironment_Require(t *testing.T) {
	t.Parallel()

	env := New(Variable{Key: "A", Value: "1"})

	value, err := env.Require("A")
	require.NoError(t, err)
	require.Equal(t, "1", value)

	_, err = env.Require("B")
	require.ErrorIs(t, err, ErrMissingVariable)
	require.Contains(t, err.Error(), "B")
}

// TestEnvironment_ConflictsAreCopied guards immutability of the recorded conflicts.
func TestEnvironment_ConflictsAreCopied(t *testing.T) {
	t.Parallel()

	env := &Environment{conflicts: []Conflict{{Key: "A"}}}

	conflicts := env.Conflicts()
	conflicts[0].Key = "B"

	require.Equal(t, "A", env.Conflicts()[0].Key)
}

// TestEnvironment_Rebind replaces a value without touching the original or its origin.
func TestEnvironment_Rebind(t *testing.T) {
	t.Parallel()

	env := &Environment{
		vars: map[string]Variable{
			"ASTRA_BINARY_PATH": {Key: "ASTRA_BINARY_PATH", Value: "bin", Origin: OriginFile},
		},
		conflicts: []Conflict{{Key: "PORT"}},
	}

	rebound := env.Rebind("ASTRA_BINARY_PATH", "/srv/astra/bin")

	variable, ok := rebound.Variable("ASTRA_BINARY_PATH")
	require.True(t, ok)
	require.Equal(t, "/srv/astra/bin", variable.Value)
	require.Equal(t, OriginFile, variable.Origin)
	require.Equal(t, env.Conflicts(), rebound.Conflicts())
	require.Equal(t, "bin", env.Get("ASTRA_BINARY_PATH"))

	origin, ok := (&Environment{}).Rebind("NEW", "1").Origin("NEW")
	require.True(t, ok)
	require.Equal(t, OriginDefault, origin)
}

// TestFromEnviron ignores malformed entries.
func TestFromEnviron(t *testing.T) {
	t.Parallel()

	got := FromEnviron([]string{"A=1", "B=x=y", "broken", "=nokey", "C="})
	require.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, got)
}
