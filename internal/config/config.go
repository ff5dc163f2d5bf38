package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseDir  string         `yaml:"base_dir"`
	Files    FilesConfig    `yaml:"files"`
	Zendesk  ZendeskConfig  `yaml:"zendesk"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Roster   RosterConfig   `yaml:"roster"`
	TokenKey string         `yaml:"token_key"` // hex AES-256 key or passphrase; empty disables enc: tokens
}

type FilesConfig struct {
	Instances string `yaml:"instances"`
	Report    string `yaml:"report"`
	Roster    string `yaml:"roster"`
}

type ZendeskConfig struct {
	BaseURL     string        `yaml:"base_url"` // may contain {subdomain}
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	RateLimit   int           `yaml:"rate_limit"`
	RateWindow  time.Duration `yaml:"rate_window"`
	MaxPages    int           `yaml:"max_pages"` // 0 = follow next_page until exhausted
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type RosterConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaskTokens bool `yaml:"mask_tokens"`
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		BaseDir: ".",
		Files: FilesConfig{
			Instances: "instances.xml",
			Report:    "agents.csv",
			Roster:    "instances.csv",
		},
		Zendesk: ZendeskConfig{
			BaseURL:     "https://{subdomain}.zendesk.com",
			Timeout:     30 * time.Second,
			Concurrency: 4,
			RateLimit:   200,
			RateWindow:  time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Roster: RosterConfig{
			Enabled: true,
		},
	}
}

func expandEnvVars(s string) string {
	return os.ExpandEnv(s)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESKROSTER_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("DESKROSTER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DESKROSTER_CONCURRENCY"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Zendesk.Concurrency = n
		}
	}
	if v := os.Getenv("DESKROSTER_TOKEN_KEY"); v != "" {
		cfg.TokenKey = v
	}
}

// Validate reports the first setting that would make a run impossible.
func (c *Config) Validate() error {
	switch {
	case c.Files.Instances == "":
		return errors.New("files.instances must not be empty")
	case c.Files.Report == "":
		return errors.New("files.report must not be empty")
	case c.Roster.Enabled && c.Files.Roster == "":
		return errors.New("files.roster must not be empty when roster is enabled")
	case !strings.Contains(c.Zendesk.BaseURL, "{subdomain}"):
		return errors.New("zendesk.base_url must contain {subdomain}")
	case c.Zendesk.Timeout <= 0:
		return errors.New("zendesk.timeout must be positive")
	case c.Zendesk.Concurrency < 1:
		return errors.New("zendesk.concurrency must be at least 1")
	case c.Zendesk.RateLimit < 1:
		return errors.New("zendesk.rate_limit must be at least 1")
	case c.Zendesk.RateWindow <= 0:
		return errors.New("zendesk.rate_window must be positive")
	case c.Zendesk.MaxPages < 0:
		return errors.New("zendesk.max_pages must not be negative")
	}
	return nil
}

// Path resolves a configured file name against BaseDir. Absolute names are
// returned unchanged.
func (c *Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.BaseDir, name)
}

func (c *Config) InstancesPath() string { return c.Path(c.Files.Instances) }
func (c *Config) ReportPath() string    { return c.Path(c.Files.Report) }
func (c *Config) RosterPath() string    { return c.Path(c.Files.Roster) }
