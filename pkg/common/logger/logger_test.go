package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevelFallback(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, New(&bytes.Buffer{}, "").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New(&bytes.Buffer{}, "loud").GetLevel())
	assert.Equal(t, logrus.DebugLevel, New(&bytes.Buffer{}, "debug").GetLevel())
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info").WithField("record_id", "R1").Info("skipped")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "R1", line["record_id"])
	assert.Equal(t, "skipped", line["msg"])
}

func TestOpenRunLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	for _, msg := range []string{"first", "second"} {
		f, err := OpenRunLog(path)
		require.NoError(t, err)
		New(f, "info").Info(msg)
		require.NoError(t, f.Close())
	}

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
}

func TestAttachRunLog(t *testing.T) {
	Init()
	path := filepath.Join(t.TempDir(), "run.log")

	closer, err := AttachRunLog(path)
	require.NoError(t, err)
	WithField("episode", "R1").Info("attached")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "attached")
}
