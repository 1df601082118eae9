package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))

	l.Info("payment confirmed", map[string]any{"txHash": "0xabc", "block": uint64(7)})
	l.Error("upload failed", map[string]any{"error": errors.New("relay returned 502")})

	require.Equal(t, 2, logs.Len())
	entries := logs.All()

	assert.Equal(t, "payment confirmed", entries[0].Message)
	assert.Equal(t, "0xabc", entries[0].ContextMap()["txHash"])
	assert.Equal(t, uint64(7), entries[0].ContextMap()["block"])

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "relay returned 502", entries[1].ContextMap()["error"])
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopLogger{}, OrNoop(nil))

	z := FromZap(zap.NewNop())
	assert.Same(t, z, OrNoop(z))
}
