package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securechat/internal/logging"
)

func TestComponent_JSONCarriesComponentField(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(logging.Options{Level: "debug", Format: "json", Out: &buf})
	require.NoError(t, err)

	logging.Component(l, "sync").Debug("cycle started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sync", line["component"])
	assert.Equal(t, "cycle started", line["msg"])
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := logging.New(logging.Options{Level: "loud"})
	assert.Error(t, err)

	_, err = logging.New(logging.Options{Format: "xml"})
	assert.Error(t, err)
}
