package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, lvl)

	lvl, err = ParseLevel("Warning")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLogger(NewTerminalHandlerWithLevel(&buf, LevelTrace, false)))

	DisableModule(ValidatorMonitoring)
	Debug(ValidatorMonitoring, "hidden window detail")
	assert.Empty(t, buf.String())

	EnableModule(ValidatorMonitoring)
	defer DisableModule(ValidatorMonitoring)
	Debug(ValidatorMonitoring, "window verified", "window", 3)
	out := buf.String()
	assert.Contains(t, out, "window verified")
	assert.Contains(t, out, "module=val_mod")
	assert.Contains(t, out, "window=3")

	buf.Reset()
	Info(ChainMonitoring, "not filtered")
	assert.Contains(t, buf.String(), "not filtered")
}

func TestJSONHandler(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLogger(NewJSONHandlerWithLevel(&buf, LevelInfo)))
	Warn(APIMonitoring, "bad request", "err", "eof")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "api_mod", rec["module"])
	assert.Equal(t, "bad request", rec["msg"])
}

func TestEnableModules(t *testing.T) {
	EnableModules("prv_mod, store_mod")
	defer DisableModule(ProverMonitoring)
	defer DisableModule(StorageMonitoring)
	assert.True(t, isModuleEnabled(ProverMonitoring))
	assert.True(t, isModuleEnabled(StorageMonitoring))
	assert.False(t, isModuleEnabled(MerkleMonitoring))
	assert.False(t, isModuleEnabled(TelemetryMonitoring))

	EnableModules("all")
	defer func() {
		for _, m := range []string{ValidatorMonitoring, ProverMonitoring, ChainMonitoring, APIMonitoring, StorageMonitoring, MerkleMonitoring, TelemetryMonitoring} {
			DisableModule(m)
		}
	}()
	assert.True(t, isModuleEnabled(TelemetryMonitoring))
}
