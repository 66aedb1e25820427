package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	assert.Equal(t, "test", entry.Entry.Data["component"])
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	assert.Error(t, log.Configure("invalid", "json", "stdout", 0))
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	assert.Error(t, log.Configure("info", "xml", "stdout", 0))
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	path := filepath.Join(t.TempDir(), "liqwatch.log")
	require.NoError(t, log.Configure("debug", "text", path, 0))
	require.NoError(t, log.Configure("debug", "text", path, 7))
}

func TestJSONFieldNames(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("pipeline").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "pipeline", line["component"])
	assert.Contains(t, line, "timestamp")
}

func TestWarnAndErrorAreCounted(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("counted").Warn("w")
	log.WithComponent("counted").Warn("w")
	log.WithComponent("counted").Error("e")

	warns, errs := Counts("counted")
	assert.Equal(t, int64(2), warns)
	assert.Equal(t, int64(1), errs)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logrus.Level
		wantErr bool
	}{
		{"", logrus.InfoLevel, false},
		{"report", logrus.InfoLevel, false},
		{" DEBUG ", logrus.DebugLevel, false},
		{"warn", logrus.WarnLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigureEnvLevelWins(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	log := Logger()
	require.NoError(t, log.Configure("debug", "json", "stderr", 0))
	assert.Equal(t, logrus.ErrorLevel, log.GetLevel())
}

func TestConfigureRejectsWithoutChangingLogger(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	require.NoError(t, log.Configure("warn", "json", "stdout", 0))
	assert.Error(t, log.Configure("debug", "xml", "stdout", 0))
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
}
