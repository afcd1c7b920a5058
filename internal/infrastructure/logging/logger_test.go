package logging

import (
	"bytes"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
		err  bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"ERROR", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "warn"},
		WithOutput(&buf), WithFields(zap.String("service", "scriptkit")))
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Component("relay").Warn("upstream slow", zap.String("host", "cdn.example.com"))
	require.NoError(t, logger.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]interface{}
	require.NoError(t, sonic.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "relay", entry["logger"])
	assert.Equal(t, "upstream slow", entry["message"])
	assert.Equal(t, "cdn.example.com", entry["host"])
	assert.Equal(t, "scriptkit", entry["service"])
	assert.Contains(t, entry, "timestamp")

	_, err = New(config.LogConfig{Level: "nope"})
	assert.Error(t, err)
}

func TestSetLevelReachesChildren(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "info"}, WithOutput(&buf))
	require.NoError(t, err)
	child := logger.Component("buffer")

	child.Debug("hidden")
	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
	child.Debug("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Error(t, logger.SetLevel("loud"))
	assert.Equal(t, zapcore.DebugLevel, logger.Level())
}

func TestDevelopmentConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "debug", Development: true}, WithOutput(&buf))
	require.NoError(t, err)

	logger.Debug("script requested", zap.String("key", "plausible"))
	out := buf.String()
	assert.Contains(t, out, "script requested")
	assert.Contains(t, out, `{"key": "plausible"}`)
	assert.False(t, bytes.HasPrefix(buf.Bytes(), []byte("{")))
}

func TestConstructors(t *testing.T) {
	assert.NotNil(t, NewDefault().Component("relay"))
	assert.True(t, NewDevelopment().Core().Enabled(zapcore.DebugLevel))
	assert.False(t, NewNop().Core().Enabled(zapcore.ErrorLevel))
}
