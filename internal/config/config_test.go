package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Load()
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "", cfg.KMSKeyURI)
		assert.Equal(t, 10.0, cfg.KMSRequestsPerSec)
		assert.Equal(t, 5, cfg.KMSBurst)
		assert.False(t, cfg.CacheNoblock)
		assert.False(t, cfg.MetricsEnabled)
		assert.Equal(t, "fieldcrypt", cfg.MetricsNamespace)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "debug")
		t.Setenv("KMS_KEY_URI", "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4=")
		t.Setenv("CACHE_NOBLOCK", "true")
		t.Setenv("METRICS_ENABLED", "true")

		cfg := Load()
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4=", cfg.KMSKeyURI)
		assert.True(t, cfg.CacheNoblock)
		assert.True(t, cfg.MetricsEnabled)
	})
}
