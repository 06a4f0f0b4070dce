package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputRoot = t.TempDir()
	cfg.Proxies = []ProxySpec{{Server: "1.2.3.4:8080"}}
	cfg.Categories = []CategorySpec{
		{Intent: "sale", Segment: "residential", Pages: 10},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.AdlistWorkers)
	assert.Equal(t, 5, cfg.AdviewWorkers)
	assert.Equal(t, float64(45), cfg.PageLoadTimeout().Seconds())
	assert.Equal(t, float64(25), cfg.ElementWaitTimeout().Seconds())
	assert.Equal(t, ProxyModeWhitelist, cfg.ProxyMode)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().AdlistWorkers, cfg.AdlistWorkers)
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := validConfig(t)
	cfg.AdviewWorkers = 8
	cfg.Webhooks.Dashboard = "https://example.com/hook"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.AdviewWorkers)
	assert.Equal(t, cfg.Webhooks.Dashboard, loaded.Webhooks.Dashboard)
	require.Len(t, loaded.Proxies, 1)
	assert.Equal(t, "1.2.3.4:8080", loaded.Proxies[0].Server)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adlist_workers: [not an int"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig(t).Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no proxies", func(c *Config) { c.Proxies = nil }, "proxy list"},
		{"no categories", func(c *Config) { c.Categories = nil }, "category list"},
		{"zero workers", func(c *Config) { c.AdlistWorkers = 0 }, "worker counts"},
		{"bad intent", func(c *Config) { c.Categories[0].Intent = "buy" }, "invalid intent"},
		{"bad segment", func(c *Config) { c.Categories[0].Segment = "industrial" }, "invalid segment"},
		{"zero pages", func(c *Config) { c.Categories[0].Pages = 0 }, "pages"},
		{"bad proxy mode", func(c *Config) { c.ProxyMode = "open" }, "proxy_mode"},
		{"missing output root", func(c *Config) { c.OutputRoot = "/definitely/not/here" }, "output root"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestUserAgentPool(t *testing.T) {
	cfg := DefaultConfig()
	pool := cfg.UserAgentPool()
	require.NotEmpty(t, pool)
	for _, ua := range pool {
		assert.Contains(t, ua, "Chrome/139.0.0.0")
	}

	cfg.UserAgents = []string{"custom-agent"}
	assert.Equal(t, []string{"custom-agent"}, cfg.UserAgentPool())
}
