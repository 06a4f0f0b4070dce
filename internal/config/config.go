// Package config holds the pgharvest run configuration: worker counts,
// browser settings, category page caps, the proxy pool, webhook sinks, and
// output locations. Configuration is loaded from a YAML file; every field has
// a usable default except the proxy list and the category list, which are
// required.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CategorySpec is one search-result category to enumerate during the list
// phase: an intent/segment pair plus the page cap for that category.
type CategorySpec struct {
	Intent       string `yaml:"intent"`  // sale | rent
	Segment      string `yaml:"segment"` // residential | commercial
	IsCommercial bool   `yaml:"is_commercial"`
	Pages        int    `yaml:"pages"`
}

// Proxy credential modes.
const (
	ProxyModeWhitelist = "whitelist"
	ProxyModeUserpass  = "userpass"
)

// ProxySpec is one proxy endpoint. Username/password are optional: in
// whitelist mode the egress IP is authorized upstream and no credentials are
// sent.
type ProxySpec struct {
	Server   string `yaml:"server"` // host:port
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// WebhookConfig names the notification sinks. Empty URLs disable the sink.
type WebhookConfig struct {
	Dashboard string `yaml:"dashboard"`
	Retry     string `yaml:"retry"`
	Exhausted string `yaml:"exhausted"`
	CSV       string `yaml:"csv"`
}

// Config is the full pgharvest configuration.
type Config struct {
	AdlistWorkers int `yaml:"adlist_workers"`
	AdviewWorkers int `yaml:"adview_workers"`

	// Browser settings
	BrowserBin     string `yaml:"browser_bin"`     // optional chrome binary path
	BrowserVersion int    `yaml:"browser_version"` // UA pool version pin

	// Timeouts, in seconds
	PageLoadTimeoutSec    int `yaml:"page_load_timeout_sec"`
	ElementWaitTimeoutSec int `yaml:"element_wait_timeout_sec"`
	LaunchStaggerStepSec  int `yaml:"launch_stagger_step_sec"`

	OutputRoot string `yaml:"output_root"`

	// ProxyMode selects how proxy credentials are supplied: "whitelist"
	// (egress IP authorized upstream, no credentials) or "userpass".
	ProxyMode string `yaml:"proxy_mode"`

	// SystemIPOverride skips the system-IP probe when set.
	SystemIPOverride string `yaml:"system_ip_override"`

	Categories []CategorySpec `yaml:"categories"`
	Proxies    []ProxySpec    `yaml:"proxies"`
	Webhooks   WebhookConfig  `yaml:"webhooks"`

	UserAgents []string `yaml:"user_agents,omitempty"`
}

// DefaultConfig returns sensible defaults. Categories and proxies have no
// default; a run needs both.
func DefaultConfig() *Config {
	return &Config{
		AdlistWorkers:         5,
		AdviewWorkers:         5,
		BrowserVersion:        139,
		PageLoadTimeoutSec:    45,
		ElementWaitTimeoutSec: 25,
		LaunchStaggerStepSec:  2,
		OutputRoot:            ".",
		ProxyMode:             ProxyModeWhitelist,
	}
}

// Load reads configuration from a YAML file, overlaying defaults. A missing
// file returns the defaults (the caller's Validate will still catch the
// missing proxy/category lists).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate fails fast on configurations that cannot produce a run.
func (c *Config) Validate() error {
	if c.AdlistWorkers <= 0 || c.AdviewWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive (adlist=%d adview=%d)", c.AdlistWorkers, c.AdviewWorkers)
	}
	if len(c.Proxies) == 0 {
		return fmt.Errorf("proxy list is empty")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("category list is empty")
	}
	for i, cat := range c.Categories {
		if cat.Intent != "sale" && cat.Intent != "rent" {
			return fmt.Errorf("category %d: invalid intent %q", i, cat.Intent)
		}
		if cat.Segment != "residential" && cat.Segment != "commercial" {
			return fmt.Errorf("category %d: invalid segment %q", i, cat.Segment)
		}
		if cat.Pages < 1 {
			return fmt.Errorf("category %d: pages must be >= 1", i)
		}
	}
	if c.ProxyMode != ProxyModeWhitelist && c.ProxyMode != ProxyModeUserpass {
		return fmt.Errorf("invalid proxy_mode %q (valid: whitelist, userpass)", c.ProxyMode)
	}
	info, err := os.Stat(c.OutputRoot)
	if err != nil {
		return fmt.Errorf("output root %q: %w", c.OutputRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output root %q is not a directory", c.OutputRoot)
	}
	return nil
}

// PageLoadTimeout returns the page-load timeout.
func (c *Config) PageLoadTimeout() time.Duration {
	if c.PageLoadTimeoutSec <= 0 {
		return 45 * time.Second
	}
	return time.Duration(c.PageLoadTimeoutSec) * time.Second
}

// ElementWaitTimeout returns the payload-element wait timeout.
func (c *Config) ElementWaitTimeout() time.Duration {
	if c.ElementWaitTimeoutSec <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.ElementWaitTimeoutSec) * time.Second
}

// LaunchStaggerStep returns the per-worker launch delay step.
func (c *Config) LaunchStaggerStep() time.Duration {
	if c.LaunchStaggerStepSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.LaunchStaggerStepSec) * time.Second
}

// defaultUserAgents is the UA pool used when none are configured. The pool is
// deliberately Chrome-heavy to match the pinned browser version.
func defaultUserAgents(version int) []string {
	v := fmt.Sprintf("%d.0.0.0", version)
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + v + " Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + v + " Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + v + " Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + v + " Safari/537.36",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" + v + " Safari/537.36",
	}
}

// UserAgentPool returns the configured UA pool, or the built-in pool pinned
// to the configured browser version.
func (c *Config) UserAgentPool() []string {
	if len(c.UserAgents) > 0 {
		return c.UserAgents
	}
	return defaultUserAgents(c.BrowserVersion)
}
