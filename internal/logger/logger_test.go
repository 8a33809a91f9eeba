package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":  zapcore.DebugLevel,
		" Info ": zapcore.InfoLevel,
		"warn":   zapcore.WarnLevel,
		"ERROR":  zapcore.ErrorLevel,
		"panic":  zapcore.PanicLevel,
		"fatal":  zapcore.FatalLevel,
		"dpanic": zapcore.DPanicLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestNewWithOutput_RespectsLevel checks that entries below the level are dropped.
func TestNewWithOutput_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	l := NewWithOutput(zapcore.WarnLevel, zapcore.AddSync(&buf))
	ctx := ToContext(context.Background(), l)

	Info(ctx, "hidden")
	Infof(ctx, "hidden %s", "formatted")
	WarnKV(ctx, "visible", "binary", "astra")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "visible")
	require.Contains(t, buf.String(), "astra")
}

// TestInfof_FormatsMessage checks that the formatted helper expands its arguments.
func TestInfof_FormatsMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), NewWithOutput(zapcore.DebugLevel, zapcore.AddSync(&buf)))

	Infof(ctx, "The manifest %s now pins %d binaries.", "pinned.yaml", 2)

	require.Contains(t, buf.String(), "The manifest pinned.yaml now pins 2 binaries.")
}
