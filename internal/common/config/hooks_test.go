package config

import (
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/logingester/pkg/logwriter"
)

type hookTarget struct {
	Compression      pulsar.CompressionType
	CompressionLevel pulsar.CompressionLevel
	Level            logwriter.Level
	Interval         time.Duration
}

func TestCustomHooks(t *testing.T) {
	v := viper.New()
	v.Set("compression", "ZSTD")
	v.Set("compressionLevel", "better")
	v.Set("level", "warning")
	v.Set("interval", "250ms")

	var target hookTarget
	require.NoError(t, v.Unmarshal(&target, CustomHooks...))

	assert.Equal(t, hookTarget{
		Compression:      pulsar.ZSTD,
		CompressionLevel: pulsar.Better,
		Level:            logwriter.LevelWarn,
		Interval:         250 * time.Millisecond,
	}, target)
}

func TestCustomHooks_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"compression":      "gzip",
		"compressionLevel": "fastest",
		"level":            "loud",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			v := viper.New()
			v.Set(key, value)
			var target hookTarget
			assert.Error(t, v.Unmarshal(&target, CustomHooks...))
		})
	}
}

func TestRedisConfig_AsUniversalOptions(t *testing.T) {
	rc := RedisConfig{
		Addrs:           []string{"localhost:6379"},
		PoolSize:        10,
		MinRetryBackoff: time.Millisecond,
		MaxRetryBackoff: time.Second,
	}

	options := rc.AsUniversalOptions()

	assert.Equal(t, []string{"localhost:6379"}, options.Addrs)
	assert.Equal(t, 10, options.PoolSize)
	assert.Equal(t, time.Millisecond, options.MinRetryBackoff)
	assert.Equal(t, time.Second, options.MaxRetryBackoff)
}
