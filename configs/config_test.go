package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 10000, cfg.MinUsageDuration)
	assert.Equal(t, 20000, cfg.MaxUsageDuration)
	assert.Equal(t, time.Millisecond, cfg.TimeUnit)
	assert.Equal(t, []string{"file"}, cfg.UsageSinks)
	assert.False(t, cfg.EtcdEnabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("MIN_USAGE_DURATION", "5")
	t.Setenv("MAX_USAGE_DURATION", "9")
	t.Setenv("TIME_UNIT", "1s")
	t.Setenv("USAGE_SINKS", "file, redis ,postgres")
	t.Setenv("ETCD_ENABLED", "true")
	t.Setenv("ETCD_ENDPOINTS", "a:2379,b:2379")

	cfg := LoadConfig()

	assert.Equal(t, 5, cfg.MinUsageDuration)
	assert.Equal(t, 9, cfg.MaxUsageDuration)
	assert.Equal(t, time.Second, cfg.TimeUnit)
	assert.True(t, cfg.HasSink("redis"))
	assert.True(t, cfg.HasSink("postgres"))
	assert.False(t, cfg.HasSink("s3"))
	assert.True(t, cfg.EtcdEnabled)
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.EtcdEndpoints)
}

func TestLoadConfig_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("MIN_USAGE_DURATION", "soon")
	t.Setenv("RETRY_BACKOFF", "fast")

	cfg := LoadConfig()

	assert.Equal(t, 10000, cfg.MinUsageDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
}
