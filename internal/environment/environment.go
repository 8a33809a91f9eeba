package environment

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Origin tells where a resolved value came from.
type Origin int

const (
	// OriginProcess marks values exported by the caller.
	OriginProcess Origin = iota
	// OriginFile marks values read from the config file.
	OriginFile
	// OriginDefault marks manifest defaults.
	OriginDefault
)

// String returns the lowercase origin name used in logs.
func (o Origin) String() string {
	switch o {
	case OriginProcess:
		return "process"
	case OriginFile:
		return "file"
	case OriginDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Variable is one resolved environment binding.
type Variable struct {
	Key    string
	Value  string
	Origin Origin
}

// Conflict records a config file value that lost to a process value.
type Conflict struct {
	// Key is the variable bound in both places.
	Key string
	// Kept is the process value that stays in effect.
	Kept string
	// Discarded is the file value that was ignored.
	Discarded string
	// Line is the config file line of the discarded value.
	Line int
}

var (
	// ErrMissingVariable is returned when a required variable stays unbound after the merge.
	ErrMissingVariable = errors.New("required environment variable is not set")
	// ErrInvalidValue is returned when a variable cannot be interpreted as the expected type.
	ErrInvalidValue = errors.New("invalid environment variable value")
	// ErrConfigFile is returned when the config file exists but cannot be read.
	ErrConfigFile = errors.New("unable to read config file")
)

// Environment is the immutable result of a resolution.
// The zero value is an empty environment.
type Environment struct {
	vars      map[string]Variable
	conflicts []Conflict
}

// New builds an Environment from already-resolved variables.
// Later entries with the same key replace earlier ones.
func New(variables ...Variable) *Environment {
	vars := make(map[string]Variable, len(variables))
	for _, v := range variables {
		vars[v.Key] = v
	}

	return &Environment{vars: vars}
}

// Lookup returns the value bound to key and whether it is bound.
func (e *Environment) Lookup(key string) (string, bool) {
	v, ok := e.vars[key]
	return v.Value, ok
}

// Get returns the value bound to key or an empty string.
func (e *Environment) Get(key string) string {
	return e.vars[key].Value
}

// Variable returns the full binding for key.
func (e *Environment) Variable(key string) (Variable, bool) {
	v, ok := e.vars[key]
	return v, ok
}

// Origin returns where the value of key came from.
func (e *Environment) Origin(key string) (Origin, bool) {
	v, ok := e.vars[key]
	return v.Origin, ok
}

// Require returns the value of key or ErrMissingVariable.
func (e *Environment) Require(key string) (string, error) {
	value, ok := e.Lookup(key)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, key)
	}

	return value, nil
}

// Bool interprets key as a boolean. Unbound keys yield fallback.
func (e *Environment) Bool(key string, fallback bool) (bool, error) {
	value, ok := e.Lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidValue, key, value)
	}

	return parsed, nil
}

// Keys returns the bound keys in sorted order.
func (e *Environment) Keys() []string {
	return slices.Sorted(maps.Keys(e.vars))
}

// Len returns the number of bound keys.
func (e *Environment) Len() int {
	return len(e.vars)
}

// Environ returns the environment in KEY=VALUE form, sorted by key,
// ready to be passed to a child process.
func (e *Environment) Environ() []string {
	keys := e.Keys()
	result := make([]string, 0, len(keys))

	for _, key := range keys {
		result = append(result, key+"="+e.vars[key].Value)
	}

	return result
}

// Rebind returns a copy of the environment with key bound to value.
// The origin of an existing binding is kept; a new key is marked as a default.
func (e *Environment) Rebind(key, value string) *Environment {
	vars := maps.Clone(e.vars)
	if vars == nil {
		vars = make(map[string]Variable, 1)
	}

	origin := OriginDefault
	if current, ok := vars[key]; ok {
		origin = current.Origin
	}

	vars[key] = Variable{Key: key, Value: value, Origin: origin}

	return &Environment{vars: vars, conflicts: slices.Clone(e.conflicts)}
}

// Conflicts returns a copy of the recorded process/file conflicts in file order.
func (e *Environment) Conflicts() []Conflict {
	return slices.Clone(e.conflicts)
}

// FromEnviron converts os.Environ output to a map.
// Entries without '=' are ignored; for duplicate keys the last one wins.
func FromEnviron(environ []string) map[string]string {
	result := make(map[string]string, len(environ))

	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			continue
		}

		result[key] = value
	}

	return result
}
