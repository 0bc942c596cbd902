package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8095, cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "events_raw", cfg.Kafka.InputTopic)
	assert.Equal(t, "events_enriched", cfg.Kafka.OutputTopic)
	assert.Equal(t, "events_dead_letter", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, "events_charged_in_advance", cfg.Kafka.ChargedInAdvanceTopic)
	assert.Equal(t, "all", cfg.Kafka.RequiredAcks)
	assert.Equal(t, "billing.fees.pay_in_advance", cfg.NATS.Subject)
	assert.Empty(t, cfg.NATS.Username)
	assert.Empty(t, cfg.NATS.Token)
	assert.Equal(t, "postgres", cfg.MetricsStore.Backend)
	assert.Equal(t, 30*time.Second, cfg.MetricsStore.CacheTTL)
	assert.Equal(t, 10000, cfg.Expression.CacheSize)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.EventTimeout)
	assert.Equal(t, uint64(5), cfg.Pipeline.PublishMaxRetries)
	assert.Equal(t, time.Minute, cfg.Pipeline.PublishMaxElapsed)
	assert.Equal(t, "kafka", cfg.DLQ.Backend)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kafka:
  brokers: ["k1:9092", "k2:9092"]
  input_topic: usage_in
metrics_store:
  backend: file
  file_path: /etc/billhawk/metrics.yaml
pipeline:
  event_timeout: 3s
dlq:
  backend: file
  base_path: /tmp/dlq
logging:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "usage_in", cfg.Kafka.InputTopic)
	assert.Equal(t, "events_enriched", cfg.Kafka.OutputTopic, "unset keys keep defaults")
	assert.Equal(t, "file", cfg.MetricsStore.Backend)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.EventTimeout)
	assert.Equal(t, "/tmp/dlq", cfg.DLQ.BasePath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("EVENTS_KAFKA_OUTPUT_TOPIC", "usage_out")
	t.Setenv("EVENTS_PIPELINE_EVENT_TIMEOUT", "750ms")
	t.Setenv("EVENTS_REDIS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "usage_out", cfg.Kafka.OutputTopic)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.EventTimeout)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_NATSCredentialsFromEnv(t *testing.T) {
	t.Setenv("EVENTS_NATS_USERNAME", "events")
	t.Setenv("EVENTS_NATS_PASSWORD", "s3cret")
	t.Setenv("EVENTS_NATS_TOKEN", "t0k3n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "events", cfg.NATS.Username)
	assert.Equal(t, "s3cret", cfg.NATS.Password)
	assert.Equal(t, "t0k3n", cfg.NATS.Token)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("EVENTS_PIPELINE_EVENT_TIMEOUT", "0s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.event_timeout must be positive")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }, "kafka.brokers"},
		{"blank input topic", func(c *Config) { c.Kafka.InputTopic = " " }, "kafka.input_topic"},
		{"same in and out", func(c *Config) { c.Kafka.OutputTopic = c.Kafka.InputTopic }, "must differ"},
		{"negative cache ttl", func(c *Config) { c.MetricsStore.CacheTTL = -time.Second }, "metrics_store.cache_ttl"},
		{"unknown store", func(c *Config) { c.MetricsStore.Backend = "mysql" }, "metrics_store.backend"},
		{"file store without path", func(c *Config) {
			c.MetricsStore.Backend = "file"
			c.MetricsStore.FilePath = ""
		}, "metrics_store.file_path"},
		{"unknown dlq", func(c *Config) { c.DLQ.Backend = "s3" }, "dlq.backend"},
		{"kafka dlq without topic", func(c *Config) { c.Kafka.DeadLetterTopic = "" }, "kafka.dlq_topic"},
		{"redis without url", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.URL = ""
		}, "redis.url"},
		{"charged in advance without topic", func(c *Config) { c.Kafka.ChargedInAdvanceTopic = "" }, "charged_in_advance_topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
