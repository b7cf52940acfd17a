package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/zen-systems/lanepro/pkg/prompt"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	System   SystemConfig  `yaml:"system"`
	Paths    PathsConfig   `yaml:"paths"`
	Prompts  PromptsConfig `yaml:"prompts"`
	Stages   StagesConfig  `yaml:"stages"`

	// API keys are only ever read from the environment.
	APIKeys APIKeys `yaml:"-"`
	// ConfigDir is the directory holding user configuration files.
	ConfigDir string `yaml:"-"`
}

// SystemConfig holds the pipeline's timing and size limits.
type SystemConfig struct {
	// GlobalCooldown is the minimum number of seconds between model calls
	// and between run starts.
	GlobalCooldown int `yaml:"global_cooldown"`
	MaxRetries     int `yaml:"max_retries"`
	InputCharLimit int `yaml:"input_char_limit"`
	// RetryDelayMs is the pause between attempts. Nil means the default;
	// an explicit 0 retries without pausing.
	RetryDelayMs       *int `yaml:"retry_delay_ms,omitempty"`
	CallTimeoutSeconds int  `yaml:"call_timeout_seconds"`
}

// PathsConfig holds output locations.
type PathsConfig struct {
	// OutputDir receives run reports. Empty disables them.
	OutputDir string `yaml:"output_dir"`
}

// PromptsConfig holds the four stage templates.
type PromptsConfig struct {
	Architect string `yaml:"architect"`
	Stripper  string `yaml:"stripper"`
	Worker    string `yaml:"worker"`
	Judge     string `yaml:"judge"`
}

// APIKeys holds provider credentials.
type APIKeys struct {
	OpenRouter string
	OpenAI     string
	Anthropic  string
	Google     string
	DeepSeek   string
}

// Load reads ~/.lanepro/config.yaml when it exists and fills everything it
// leaves unset from Default.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err != nil {
		path = ""
	}
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	cfg.ConfigDir = configDir
	return cfg, nil
}

// LoadFile reads configuration from an explicit YAML file.
func LoadFile(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	cfg.ConfigDir = filepath.Dir(path)
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: path, Err: err}
		}
	}

	defaults := Default()
	// A model only makes sense for the adapter it was named for.
	if adapter := cfg.Stages.Default.Adapter; adapter != "" && adapter != defaults.Stages.Default.Adapter {
		defaults.Stages.Default.Model = ""
	}
	// WithoutDereference keeps an explicit zero behind a pointer field.
	if err := mergo.Merge(cfg, defaults, mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}
	cfg.APIKeys = keysFromEnv()
	return cfg, nil
}

func keysFromEnv() APIKeys {
	return APIKeys{
		OpenRouter: os.Getenv("OPENROUTER_API_KEY"),
		OpenAI:     os.Getenv("OPENAI_API_KEY"),
		Anthropic:  os.Getenv("ANTHROPIC_API_KEY"),
		Google:     os.Getenv("GOOGLE_API_KEY"),
		DeepSeek:   os.Getenv("DEEPSEEK_API_KEY"),
	}
}

// HasAdapter returns true if the API key for the given adapter is configured.
// The mock adapter needs no key.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "openrouter":
		return c.APIKeys.OpenRouter != ""
	case "openai":
		return c.APIKeys.OpenAI != ""
	case "anthropic":
		return c.APIKeys.Anthropic != ""
	case "google":
		return c.APIKeys.Google != ""
	case "deepseek":
		return c.APIKeys.DeepSeek != ""
	case "mock":
		return true
	default:
		return false
	}
}

// Validate checks limits and templates. Every failure is a *ConfigError.
func (c *Config) Validate() error {
	if c.System.GlobalCooldown < 1 {
		return fieldError("system.global_cooldown", "must be at least 1, got %d", c.System.GlobalCooldown)
	}
	if c.System.MaxRetries < 1 {
		return fieldError("system.max_retries", "must be at least 1, got %d", c.System.MaxRetries)
	}
	if c.System.InputCharLimit < 1 {
		return fieldError("system.input_char_limit", "must be at least 1, got %d", c.System.InputCharLimit)
	}
	if c.System.RetryDelayMs != nil && *c.System.RetryDelayMs < 0 {
		return fieldError("system.retry_delay_ms", "must not be negative, got %d", *c.System.RetryDelayMs)
	}
	if c.System.CallTimeoutSeconds < 1 {
		return fieldError("system.call_timeout_seconds", "must be at least 1, got %d", c.System.CallTimeoutSeconds)
	}

	if _, err := c.Templates(); err != nil {
		return err
	}

	for _, stage := range StageNames {
		target := c.Stages.Target(stage)
		if target.Adapter == "" {
			return fieldError("stages."+stage, "no adapter configured")
		}
	}
	return nil
}

// Templates parses the four prompts and checks each against the inputs the
// pipeline supplies for its stage.
func (c *Config) Templates() (map[string]*prompt.Template, error) {
	raw := map[string]string{
		StageArchitect: c.Prompts.Architect,
		StageStripper:  c.Prompts.Stripper,
		StageWorker:    c.Prompts.Worker,
		StageJudge:     c.Prompts.Judge,
	}

	templates := make(map[string]*prompt.Template, len(raw))
	for _, stage := range StageNames {
		field := "prompts." + stage
		if raw[stage] == "" {
			return nil, fieldError(field, "prompt is empty")
		}
		tmpl, err := prompt.Parse(stage, raw[stage])
		if err != nil {
			return nil, &ConfigError{Field: field, Err: err}
		}
		if err := tmpl.Expect(StageInputs[stage]...); err != nil {
			return nil, &ConfigError{Field: field, Err: err}
		}
		templates[stage] = tmpl
	}
	return templates, nil
}

// Cooldown returns the global cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.System.GlobalCooldown) * time.Second
}

// RetryDelay returns the fixed pause between attempts.
func (c *Config) RetryDelay() time.Duration {
	ms := defaultRetryDelayMs
	if c.System.RetryDelayMs != nil {
		ms = *c.System.RetryDelayMs
	}
	return time.Duration(ms) * time.Millisecond
}

// CallTimeout returns the deadline applied to each model call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.System.CallTimeoutSeconds) * time.Second
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".lanepro")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
