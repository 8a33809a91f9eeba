package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/astra-bootstrap/internal/logger"
)

// redactedValue replaces sensitive values in log output.
const redactedValue = "***"

// Option configures a resolution.
type Option func(*resolver)

// WithSensitiveKeys marks keys whose values must not appear in logs.
func WithSensitiveKeys(keys ...string) Option {
	return func(r *resolver) {
		for _, key := range keys {
			r.sensitive[key] = struct{}{}
		}
	}
}

// resolver holds the state of a single Resolve call.
type resolver struct {
	vars      map[string]Variable
	conflicts []Conflict
	sensitive map[string]struct{}
}

// Resolve merges the config file at configFile into processEnv, applies
// defaults to keys that are still unbound and checks requiredKeys.
//
// A key present in processEnv always keeps the process value; the file value
// is logged and recorded as a Conflict. A missing config file is treated as
// empty. Every required key that stays unbound is reported in one
// ErrMissingVariable error.
func Resolve(
	ctx context.Context,
	configFile string,
	processEnv map[string]string,
	requiredKeys []string,
	defaults map[string]string,
	opts ...Option,
) (*Environment, error) {
	r := &resolver{
		vars:      make(map[string]Variable, len(processEnv)+len(defaults)),
		sensitive: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	for key, value := range processEnv {
		r.vars[key] = Variable{Key: key, Value: value, Origin: OriginProcess}
	}

	if err := r.mergeFile(ctx, configFile); err != nil {
		return nil, err
	}

	for key, value := range defaults {
		if _, bound := r.vars[key]; bound {
			continue
		}

		r.vars[key] = Variable{Key: key, Value: value, Origin: OriginDefault}
		logger.DebugKV(ctx, "Applied default", "key", key, "value", r.display(key, value))
	}

	var missing []string

	for _, key := range requiredKeys {
		if _, bound := r.vars[key]; !bound {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}

	return &Environment{vars: r.vars, conflicts: r.conflicts}, nil
}

// mergeFile binds file values to keys the process did not export.
func (r *resolver) mergeFile(ctx context.Context, configFile string) error {
	if configFile == "" {
		return nil
	}

	file, err := os.Open(filepath.Clean(configFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.WarnKV(ctx, "Config file not found, continuing without it", "path", configFile)
			return nil
		}

		return fmt.Errorf("%w: %s: %w", ErrConfigFile, configFile, err)
	}

	defer func() {
		_ = file.Close()
	}()

	entries, skipped, err := Parse(file)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigFile, configFile, err)
	}

	for _, line := range skipped {
		logger.WarnKV(ctx, "Ignoring config line without assignment", "path", configFile, "line", line)
	}

	for _, entry := range entries {
		current, bound := r.vars[entry.Key]
		if bound && current.Origin == OriginProcess {
			r.conflicts = append(r.conflicts, Conflict{
				Key:       entry.Key,
				Kept:      current.Value,
				Discarded: entry.Value,
				Line:      entry.Line,
			})

			logger.InfoKV(ctx, "Variable already set in process environment, ignoring config file value",
				"key", entry.Key,
				"discarded", r.display(entry.Key, entry.Value),
				"line", entry.Line)

			continue
		}

		r.vars[entry.Key] = Variable{Key: entry.Key, Value: entry.Value, Origin: OriginFile}
	}

	logger.DebugKV(ctx, "Config file merged", "path", configFile, "entries", len(entries))

	return nil
}

// display returns the value as it may appear in logs.
func (r *resolver) display(key, value string) string {
	if _, ok := r.sensitive[key]; ok {
		return redactedValue
	}

	return value
}
