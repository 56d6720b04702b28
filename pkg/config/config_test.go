package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[fix]
upstream_addr = "127.0.0.1:9880"
sender_comp_id = "FIXIT"
target_comp_id = "GATEWAY"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fixit", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "FIX.4.4", cfg.Fix.BeginString)
	assert.Equal(t, 1, cfg.Fix.WireDelimiter)
	assert.Equal(t, uint64(1), cfg.Fix.SeqSeed)
	assert.Equal(t, 30, cfg.Fix.HeartbeatInterval)
	assert.Equal(t, 65536, cfg.Fix.ScanWindow)
	assert.Equal(t, 256, cfg.Fix.QueueCapacity)
	assert.Equal(t, "fixit.frames", cfg.Kafka.Topic)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name = "fixit-lab"

[fix]
upstream_addr = "gateway.example.com:9880"
sender_comp_id = "CLIENT1"
target_comp_id = "EXCH"
wire_delimiter = 124
seq_seed = 42
log_all = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fixit-lab", cfg.ServiceName)
	assert.Equal(t, "gateway.example.com:9880", cfg.Fix.UpstreamAddr)
	assert.Equal(t, 124, cfg.Fix.WireDelimiter) // '|'
	assert.Equal(t, uint64(42), cfg.Fix.SeqSeed)
	assert.True(t, cfg.Fix.LogAll)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing upstream", `
[fix]
sender_comp_id = "A"
target_comp_id = "B"
`},
		{"missing comp ids", `
[fix]
upstream_addr = "127.0.0.1:9880"
`},
		{"delimiter out of range", `
[fix]
upstream_addr = "127.0.0.1:9880"
sender_comp_id = "A"
target_comp_id = "B"
wire_delimiter = 300
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("FIXIT_TEST_KEY", "value")
	assert.Equal(t, "value", GetEnv("FIXIT_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", GetEnv("FIXIT_TEST_MISSING", "fallback"))
}
