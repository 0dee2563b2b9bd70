package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestInit_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	cfg := DefaultConfig("test")
	cfg.OutputPath = path

	l, err := Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { Replace(zap.NewNop()) })

	For("mutex").Info("granted", zap.Int("process", 2))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"granted"`)
	assert.Contains(t, string(data), `"logger":"mutex"`)
	assert.Contains(t, string(data), `"service":"test"`)
}

func TestPackageHelpers_UseGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	cfg := DefaultConfig("simulator")
	cfg.OutputPath = path
	cfg.Level = "debug"

	_, err := Init(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { Replace(zap.NewNop()) })

	Info("simulator running", zap.Int("processes", 3))
	Warn("JWT_SECRET not set")
	Error("redis usage sink unavailable")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"level":"info","`)
	assert.Contains(t, out, `"message":"simulator running"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"caller":"logger/logger_test.go`, "caller skips the helper frame")
}
