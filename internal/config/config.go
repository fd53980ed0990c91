// Package config loads the twiddle TOML configuration file and applies
// environment fallbacks.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultBaseURL        = "https://openrouter.ai/api"
	defaultModel          = "openai/gpt-5-codex"
	defaultProvider       = "openai"
	defaultSandboxMode    = "read-only"
	defaultApprovalPolicy = "on-request"

	defaultConfigRelativePath = ".twiddle/twiddle.toml"
	maxConfigBytes            = 64 * 1024

	envAPIKey = "OPENAI_API_KEY"
)

var (
	// ErrAPIKeyMissing indicates no credential in config or environment.
	ErrAPIKeyMissing = errors.New("api key missing")
	// ErrConfigParse indicates malformed configuration input.
	ErrConfigParse = errors.New("config parse failed")
	// ErrConfigTooLarge indicates the config file exceeds its size bound.
	ErrConfigTooLarge = errors.New("config file too large")
)

// Config is the validated runtime configuration. The credential is held as
// bytes so it can be zeroed on shutdown.
type Config struct {
	Provider       string
	BaseURL        string
	Model          string
	APIKey         []byte
	SandboxMode    string
	ApprovalPolicy string
}

// fileConfig mirrors the TOML file. Pointers distinguish absent keys from
// present-but-empty ones, which are rejected.
type fileConfig struct {
	Provider       *string `toml:"provider"`
	BaseURL        *string `toml:"base_url"`
	Model          *string `toml:"model"`
	APIKey         *string `toml:"api_key"`
	SandboxMode    *string `toml:"sandbox_mode"`
	ApprovalPolicy *string `toml:"approval_policy"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// Load reads the config file (missing file means defaults), applies the
// environment credential fallback, and validates enums.
func Load(opts LoadOptions) (Config, error) {
	cfg := Config{
		Provider:       defaultProvider,
		BaseURL:        defaultBaseURL,
		Model:          defaultModel,
		SandboxMode:    defaultSandboxMode,
		ApprovalPolicy: defaultApprovalPolicy,
	}

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}
	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}

	if len(cfg.APIKey) == 0 {
		if value, ok := os.LookupEnv(envAPIKey); ok && value != "" {
			cfg.APIKey = []byte(value)
		}
	}
	if len(cfg.APIKey) == 0 {
		return Config{}, ErrAPIKeyMissing
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Zero wipes the credential bytes.
func (c *Config) Zero() {
	for i := range c.APIKey {
		c.APIKey[i] = 0
	}
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	defer zeroBytes(data)

	if len(data) > maxConfigBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrConfigTooLarge, path, len(data))
	}

	var file fileConfig
	if err := toml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigParse, path, err)
	}

	if err := applyString(&cfg.Provider, file.Provider, "provider"); err != nil {
		return err
	}
	if err := applyString(&cfg.BaseURL, file.BaseURL, "base_url"); err != nil {
		return err
	}
	if err := applyString(&cfg.Model, file.Model, "model"); err != nil {
		return err
	}
	if file.APIKey != nil {
		if *file.APIKey == "" {
			return fmt.Errorf("%w: api_key is empty", ErrConfigParse)
		}
		cfg.APIKey = []byte(*file.APIKey)
	}
	if err := applyString(&cfg.SandboxMode, file.SandboxMode, "sandbox_mode"); err != nil {
		return err
	}
	if err := applyString(&cfg.ApprovalPolicy, file.ApprovalPolicy, "approval_policy"); err != nil {
		return err
	}
	return nil
}

func applyString(dst *string, src *string, key string) error {
	if src == nil {
		return nil
	}
	if *src == "" {
		return fmt.Errorf("%w: %s is empty", ErrConfigParse, key)
	}
	*dst = *src
	return nil
}

func validate(cfg Config) error {
	switch cfg.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrConfigParse, cfg.Provider)
	}
	switch cfg.SandboxMode {
	case "read-only", "workspace-write", "danger-full-access":
	default:
		return fmt.Errorf("%w: unknown sandbox_mode %q", ErrConfigParse, cfg.SandboxMode)
	}
	switch cfg.ApprovalPolicy {
	case "on-request", "never":
	default:
		return fmt.Errorf("%w: unknown approval_policy %q", ErrConfigParse, cfg.ApprovalPolicy)
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}

func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
