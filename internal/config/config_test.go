package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zplmerge/internal/run"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	t.Run("Should be valid with the stock limits", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, Validate(cfg))
		assert.Equal(t, 50, cfg.Batching.ItemCap)
		assert.Equal(t, 5, cfg.Labelary.MaxRetries)
		assert.InDelta(t, 2.0, cfg.Labelary.RatePerSecond, 1e-9)
		assert.Equal(t, 30*time.Second, cfg.Labelary.Timeout)
	})
}

func TestLoad(t *testing.T) {
	t.Run("Should return defaults when the file is missing", func(t *testing.T) {
		cfg, err := Load("not_exists.yml")
		require.NoError(t, err)
		assert.Equal(t, 203, cfg.Page.DPI)
	})

	t.Run("Should read and normalize values", func(t *testing.T) {
		path := writeConfig(t, `
port: 9090
data_dir: testdata
log_level: DEBUG
page:
  width_in: 2.25
  height_in: 1.25
  dpi: 300
labelary:
  base_url: http://localhost:9999/
  timeout: 5s
  max_retries: 3
  rate_per_second: 1
  throttle: Token_Bucket
batching:
  strategy: Adaptive
  initial_chunk: 4
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "testdata", cfg.DataDir)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.InDelta(t, 2.25, cfg.Page.WidthIn, 1e-9)
		assert.Equal(t, 300, cfg.Page.DPI)
		assert.Equal(t, "http://localhost:9999", cfg.Labelary.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.Labelary.Timeout)
		assert.Equal(t, "token_bucket", cfg.Labelary.Throttle)
		assert.Equal(t, 60*time.Second, cfg.Labelary.MaxBackoff, "unset values keep their defaults")
		assert.Equal(t, run.StrategyAdaptive, cfg.Batching.Strategy)
		assert.Equal(t, 4, cfg.Batching.InitialChunk)
		assert.Equal(t, 50, cfg.Batching.ItemCap)
	})

	t.Run("Should reject invalid values", func(t *testing.T) {
		cases := map[string]string{
			"concurrency": "max_concurrent_runs: 0\n",
			"dpi":         "page:\n  dpi: 150\n",
			"width":       "page:\n  width_in: -1\n",
			"retries":     "labelary:\n  max_retries: 0\n",
			"strategy":    "batching:\n  strategy: optimal\n",
			"throttle":    "labelary:\n  throttle: leaky\n",
			"cap":         "batching:\n  item_cap: -5\n",
		}
		for name, content := range cases {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err, name)
		}
	})
}
