// Package config provides configuration management for RefactorGen.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the RefactorGen server and CLI.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string `yaml:"server_addr"`

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// WorkspaceDir is the parent of every run's working tree.
	WorkspaceDir string `yaml:"workspace_dir"`

	// MaxConcurrentRuns bounds runs executing at once. Default: 1.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	Oracle     OracleConfig     `yaml:"oracle"`
	Validation ValidationConfig `yaml:"validation"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`

	// GitHubToken resolves owner/repo locators (optional for public repos).
	GitHubToken string `yaml:"github_token"`

	// Slack run-completion notifications (optional).
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel"`
}

// OracleConfig selects the LLM provider.
type OracleConfig struct {
	Provider      string        `yaml:"provider"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerMinute float64       `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
}

// ValidationConfig controls the project test run.
type ValidationConfig struct {
	// Command overrides test runner detection.
	Command   string        `yaml:"command"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxOutput int           `yaml:"max_output"`
	Lint      bool          `yaml:"lint"`
}

// DiscoveryConfig controls the issue scan.
type DiscoveryConfig struct {
	Excludes     []string `yaml:"excludes"`
	MinLines     int      `yaml:"min_lines"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
	MaxIssues    int      `yaml:"max_issues"`
}

// Load creates a Config from defaults, the YAML file named by
// REFACTORGEN_CONFIG (if set) and environment variables, in that order.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("REFACTORGEN_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "refactorgen.db")
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = filepath.Join(cfg.DataDir, "workspaces")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerAddr:        ":7080",
		DataDir:           defaultDataDir(),
		MaxConcurrentRuns: 1,
		Oracle: OracleConfig{
			Provider: "openai",
			Timeout:  90 * time.Second,
			Burst:    1,
		},
		Validation: ValidationConfig{
			Timeout:   10 * time.Minute,
			MaxOutput: 16 * 1024,
		},
		Discovery: DiscoveryConfig{
			MinLines:     10,
			MaxFileBytes: 256 * 1024,
		},
	}
}

func (c *Config) applyEnv() error {
	setString(&c.ServerAddr, "REFACTORGEN_ADDR")
	setString(&c.DataDir, "REFACTORGEN_DATA_DIR")
	setString(&c.DatabasePath, "REFACTORGEN_DB")
	setString(&c.WorkspaceDir, "REFACTORGEN_WORKSPACE_DIR")
	setString(&c.GitHubToken, "GITHUB_TOKEN")
	setString(&c.SlackBotToken, "SLACK_BOT_TOKEN")
	setString(&c.SlackChannel, "SLACK_CHANNEL")

	setString(&c.Oracle.Provider, "REFACTORGEN_ORACLE_PROVIDER")
	setString(&c.Oracle.BaseURL, "REFACTORGEN_ORACLE_BASE_URL")
	setString(&c.Oracle.Model, "REFACTORGEN_ORACLE_MODEL")
	// API_KEY targets an OpenAI-compatible endpoint; ANTHROPIC_API_KEY
	// switches the provider when no other key is set.
	if key := os.Getenv("API_KEY"); key != "" {
		c.Oracle.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.Oracle.APIKey == "" {
		c.Oracle.APIKey = key
		if os.Getenv("REFACTORGEN_ORACLE_PROVIDER") == "" {
			c.Oracle.Provider = "anthropic"
		}
	}

	setString(&c.Validation.Command, "REFACTORGEN_TEST_COMMAND")

	var errs []error
	errs = append(errs,
		setInt(&c.MaxConcurrentRuns, "REFACTORGEN_MAX_RUNS"),
		setInt(&c.Oracle.Burst, "REFACTORGEN_ORACLE_BURST"),
		setFloat(&c.Oracle.RatePerMinute, "REFACTORGEN_ORACLE_RPM"),
		setDuration(&c.Oracle.Timeout, "REFACTORGEN_ORACLE_TIMEOUT"),
		setDuration(&c.Validation.Timeout, "REFACTORGEN_TEST_TIMEOUT"),
		setInt(&c.Validation.MaxOutput, "REFACTORGEN_TEST_MAX_OUTPUT"),
		setBool(&c.Validation.Lint, "REFACTORGEN_LINT"),
		setInt(&c.Discovery.MinLines, "REFACTORGEN_MIN_LINES"),
		setInt(&c.Discovery.MaxIssues, "REFACTORGEN_MAX_ISSUES"),
	)
	if v := os.Getenv("REFACTORGEN_EXCLUDES"); v != "" {
		c.Discovery.Excludes = splitList(v)
	}
	return errors.Join(errs...)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("an oracle API key is required (set API_KEY or ANTHROPIC_API_KEY)")
	}
	switch c.Oracle.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported oracle provider %q (want openai or anthropic)", c.Oracle.Provider)
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be at least 1, got %d", c.MaxConcurrentRuns)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle timeout must be positive")
	}
	if c.Validation.Timeout <= 0 {
		return fmt.Errorf("validation timeout must be positive")
	}
	if c.Oracle.RatePerMinute < 0 {
		return fmt.Errorf("oracle rate_per_minute must not be negative")
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refactorgen"
	}
	return filepath.Join(home, ".refactorgen")
}
