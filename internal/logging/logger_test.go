package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitializeSilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	require.NoError(t, Initialize(""))
	assert.False(t, GetLogger().Core().Enabled(zapcore.ErrorLevel))
}

func TestInitializeFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	require.NoError(t, Initialize(""))
	assert.True(t, GetLogger().Core().Enabled(zapcore.WarnLevel))
	assert.False(t, GetLogger().Core().Enabled(zapcore.InfoLevel))
}

func TestLogConnectionFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogConnection("10.0.0.1:5000", "connection_accepted")
	LogRawBytes("ciphertext", []byte{0x41, 0x00})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "connection_accepted", entries[0].ContextMap()["event"])
	assert.Equal(t, "4100", entries[1].ContextMap()["hex"])
	assert.Equal(t, "A.", entries[1].ContextMap()["ascii"])
}

func TestDumpsAreCapped(t *testing.T) {
	data := []byte(strings.Repeat("x", maxDumpBytes+10))
	assert.True(t, strings.HasSuffix(hexDump(data), "..."))
	assert.Len(t, asciiDump(data), maxDumpBytes)
	assert.Equal(t, "", hexDump(nil))
}

func TestTLSVersionName(t *testing.T) {
	assert.Equal(t, "TLS 1.3", tlsVersionName(0x0304))
	assert.Equal(t, "Unknown (0x0001)", tlsVersionName(1))
}
