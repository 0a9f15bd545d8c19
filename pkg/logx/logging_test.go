package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWithFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "collector"))

	log.Debug("hidden")
	log.Info("tick", Int("n", 3), Err(errors.New("boom")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &m))
	require.Equal(t, "tick", m["message"])
	require.Equal(t, "collector", m["comp"])
	require.EqualValues(t, 3, m["n"])
	require.Equal(t, "boom", m["err"])
	require.Contains(t, m["caller"], "logging_test.go")
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing happens")
	require.False(t, Nop().IsZero())
}
