package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcast/internal/dispatch"
)

func TestDecodeKnownVariants(t *testing.T) {
	m, ok, err := Decode([]byte(`{"type":"post_all","targets":[{"id":"1","name":"A"},{"id":"2","name":"B","selected":false}],"content":{"text":"hello","images":[{"url":"https://img/x.jpg"}]},"delaySeconds":45}`))
	require.NoError(t, err)
	require.True(t, ok)

	pa, isPost := m.(PostAll)
	require.True(t, isPost)
	require.Len(t, pa.Targets, 2)
	assert.True(t, pa.Targets[0].IsSelected())
	assert.False(t, pa.Targets[1].IsSelected())
	assert.Equal(t, "hello", pa.Content.Text)
	assert.Equal(t, 45.0, pa.DelaySeconds)

	m, ok, err = Decode([]byte(`{"type":"check_session"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CheckSession{}, m)
}

func TestDecodeIgnoresUnknownType(t *testing.T) {
	m, ok, err := Decode([]byte(`{"type":"open_dashboard","x":1}`))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode([]byte(`not json`))
	require.Error(t, err)

	_, _, err = Decode([]byte(`{"runId":"x"}`))
	require.ErrorIs(t, err, ErrNoType)
}

func TestEncodeAddsDiscriminator(t *testing.T) {
	b, err := Encode(Progress{dispatch.Progress{RunID: "r", Current: 2, Total: 5, Status: dispatch.StatusRunning}})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "progress", m["type"])
	assert.Equal(t, 2.0, m["current"])
	assert.Equal(t, 5.0, m["total"])

	back, ok, err := Decode(b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, back.(Progress).Current)
}

func TestEncodeEmptyVariant(t *testing.T) {
	b, err := Encode(LoadGroups{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"load_groups"}`, string(b))
}
