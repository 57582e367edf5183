package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, c.Tracker.StreamMaxReconnects)
	assert.Equal(t, time.Second, c.Tracker.StreamBackoffBase)
	assert.Equal(t, 8*time.Second, c.Tracker.StreamBackoffMax)
	assert.Equal(t, 3*time.Second, c.Tracker.PollBase)
	assert.Equal(t, 15*time.Second, c.Tracker.PollMax)
	assert.Equal(t, 120, c.Tracker.PollMaxRetries)
	assert.Equal(t, 200, c.Tracker.LogCap)
	assert.Equal(t, 5*time.Minute, c.StockContext.TTL)
	assert.Equal(t, 2, c.StockContext.MaxRetries)
	assert.Equal(t, 20, c.Watchlist.Max)
	assert.Equal(t, "zh-TW", c.Backend.Lang)
	assert.True(t, c.Notify.Enabled)
	assert.Equal(t, []string{"http://localhost:5173"}, c.Server.AllowOrigins)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  base_url: http://analysis.internal:9000
  lang: en
tracker:
  poll_max_retries: 60
watchlist:
  backend: memory
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://analysis.internal:9000", c.Backend.BaseURL)
	assert.Equal(t, "en", c.Backend.Lang)
	assert.Equal(t, 60, c.Tracker.PollMaxRetries)
	assert.Equal(t, "memory", c.Watchlist.Backend)
	assert.Equal(t, 3, c.Tracker.StreamMaxReconnects)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"poll ceiling":   "tracker:\n  poll_max_retries: 500\n",
		"language":       "backend:\n  lang: fr\n",
		"watchlist":      "watchlist:\n  backend: etcd\n",
		"kafka brokers":  "kafka:\n  enabled: true\n",
		"backoff window": "tracker:\n  stream_backoff_base: 10s\n  stream_backoff_max: 1s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	env := map[string]string{
		"TRADEDESK_BACKEND_URL":   "http://10.0.0.5:8000",
		"TRADEDESK_KAFKA_ENABLED": "true",
		"TRADEDESK_KAFKA_BROKERS": "k1:9092,k2:9092",
		"TRADEDESK_SERVER_PORT":   "9999",
		"TRADEDESK_NOTIFY":        "false",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "http://10.0.0.5:8000", c.Backend.BaseURL)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 9999, c.Server.Port)
	assert.False(t, c.Notify.Enabled)
	require.NoError(t, c.Validate())
}
