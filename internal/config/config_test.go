package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("QUEUE_BACKEND", "")
	t.Setenv("RENDER_SCALE", "")
	t.Setenv("TESSERACT_LANGUAGES", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "redis://nexus-redis:6379", cfg.RedisURL)
	assert.Equal(t, QueueBackendRedisList, cfg.QueueBackend)
	assert.Equal(t, 2.0, cfg.RenderScale)
	assert.Equal(t, []string{"eng"}, cfg.TesseractLanguages)
	assert.True(t, cfg.VerifyOutput)
	assert.Equal(t, 144, cfg.OCRDPI())
	assert.Equal(t, 30*time.Minute, cfg.BatchTimeout())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "asynq")
	t.Setenv("TESSERACT_LANGUAGES", "eng+deu, fra")
	t.Setenv("RENDER_SCALE", "3")
	t.Setenv("TESSERACT_DPI", "300")
	t.Setenv("VERIFY_OUTPUT", "false")
	t.Setenv("MAX_PAGES", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, QueueBackendAsynq, cfg.QueueBackend)
	assert.Equal(t, []string{"eng", "deu", "fra"}, cfg.TesseractLanguages)
	assert.Equal(t, 3.0, cfg.RenderScale)
	assert.Equal(t, 300, cfg.OCRDPI())
	assert.False(t, cfg.VerifyOutput)
	assert.Equal(t, 2000, cfg.MaxPages, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RedisURL:           "redis://localhost:6379",
			QueueName:          "ocrlayer:jobs",
			QueueBackend:       QueueBackendRedisList,
			WorkerConcurrency:  1,
			MaxFileSize:        1 << 20,
			ProcessingTimeout:  60000,
			TesseractLanguages: []string{"eng"},
			RenderScale:        2,
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no redis":          func(c *Config) { c.RedisURL = "" },
		"unknown backend":   func(c *Config) { c.QueueBackend = "kafka" },
		"zero concurrency":  func(c *Config) { c.WorkerConcurrency = 0 },
		"tiny file limit":   func(c *Config) { c.MaxFileSize = 10 },
		"scale of one":      func(c *Config) { c.RenderScale = 1 },
		"huge scale":        func(c *Config) { c.RenderScale = 12 },
		"bad psm":           func(c *Config) { c.TesseractPSM = 14 },
		"no languages":      func(c *Config) { c.TesseractLanguages = nil },
		"short timeout":     func(c *Config) { c.ProcessingTimeout = 10 },
		"negative max page": func(c *Config) { c.MaxPages = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
