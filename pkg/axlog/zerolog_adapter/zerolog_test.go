package zerologadapter

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a, err := NewFromOptions(Options{Level: "debug", Writer: &buf})
	require.NoError(t, err)

	a.With("role", "server").Debug("client authorized", "client", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "client authorized", line["message"])
	assert.Equal(t, "server", line["role"])
	assert.EqualValues(t, 3, line["client"])
	assert.Equal(t, "debug", line["level"])
}

func TestAdapterRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a, err := NewFromOptions(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	a.Info("dropped")
	assert.Zero(t, buf.Len())

	a.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := NewFromOptions(Options{Level: "loud"})
	require.Error(t, err)
}
