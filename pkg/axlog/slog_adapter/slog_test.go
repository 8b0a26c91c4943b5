package slogadapter

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/QYUbit/netsync/pkg/axlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ axlog.Logger = (*Adapter)(nil)

func TestAdapterWritesJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a, err := NewFromOptions(Options{Level: "debug", Writer: &buf})
	require.NoError(t, err)

	a.With("role", "host").Debug("entity created", "net_id", 7)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "entity created", record["msg"])
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "host", record["role"])
	assert.EqualValues(t, 7, record["net_id"])
}

func TestAdapterFiltersBelowLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	a, err := NewFromOptions(Options{Level: "ERROR", Pretty: true, Writer: &buf})
	require.NoError(t, err)

	a.Warn("dropped")
	assert.Zero(t, buf.Len())

	a.Error("kept", "reason", "timeout")
	assert.Contains(t, buf.String(), "msg=kept")
	assert.Contains(t, buf.String(), "reason=timeout")
}

func TestInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := NewFromOptions(Options{Level: "loud"})
	assert.Error(t, err)
}
