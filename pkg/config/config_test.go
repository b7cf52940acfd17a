package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/lanepro/pkg/prompt"
)

func clearKeys(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENROUTER_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "DEEPSEEK_API_KEY"} {
		t.Setenv(key, "")
	}
}

func setHomeEnv(t *testing.T, home string) {
	t.Helper()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	clearKeys(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Cooldown())
	assert.Equal(t, 3, cfg.System.MaxRetries)
	assert.Equal(t, 10000, cfg.System.InputCharLimit)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay())
	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Equal(t, "openrouter", cfg.Stages.Target(StageJudge).Adapter)
	assert.DirExists(t, cfg.ConfigDir)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	home := t.TempDir()
	setHomeEnv(t, home)
	clearKeys(t)

	dir := filepath.Join(home, ".lanepro")
	require.NoError(t, os.MkdirAll(dir, 0700))
	content := `system:
  global_cooldown: 5
  max_retries: 2
prompts:
  worker: "Do these: {taskListAndText}"
stages:
  judge:
    adapter: anthropic
    model: quality
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.System.GlobalCooldown)
	assert.Equal(t, 2, cfg.System.MaxRetries)
	assert.Equal(t, 10000, cfg.System.InputCharLimit)
	assert.Equal(t, "Do these: {taskListAndText}", cfg.Prompts.Worker)
	assert.Equal(t, Default().Prompts.Judge, cfg.Prompts.Judge)
	assert.Equal(t, RouteTarget{Adapter: "anthropic", Model: "quality"}, cfg.Stages.Target(StageJudge))
	assert.Equal(t, RouteTarget{Adapter: "openrouter", Model: "z-ai/glm-4.5-air:free"}, cfg.Stages.Target(StageWorker))
}

func TestConfigIgnoresFileAPIKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("api_keys:\n  openrouter: file-key\n")
	require.NoError(t, os.WriteFile(path, data, 0600))
	clearKeys(t)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKeys.OpenRouter)
	assert.False(t, cfg.HasAdapter("openrouter"))
	assert.True(t, cfg.HasAdapter("mock"))
}

func TestConfigUsesEnvAPIKeys(t *testing.T) {
	setHomeEnv(t, t.TempDir())
	t.Setenv("OPENROUTER_API_KEY", "env-router")
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("ANTHROPIC_API_KEY", "env-ant")
	t.Setenv("GOOGLE_API_KEY", "env-google")
	t.Setenv("DEEPSEEK_API_KEY", "env-deepseek")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, APIKeys{
		OpenRouter: "env-router",
		OpenAI:     "env-openai",
		Anthropic:  "env-ant",
		Google:     "env-google",
		DeepSeek:   "env-deepseek",
	}, cfg.APIKeys)
	for _, name := range []string{"openrouter", "openai", "anthropic", "google", "deepseek"} {
		assert.True(t, cfg.HasAdapter(name), name)
	}
	assert.False(t, cfg.HasAdapter("unknown"))
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system: [unterminated"), 0600))

	_, err := LoadFile(path)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestValidateRejectsPlaceholderMismatch(t *testing.T) {
	cases := map[string]func(*Config){
		"architect missing specification": func(c *Config) { c.Prompts.Architect = "Plan this please." },
		"stripper wrong name":             func(c *Config) { c.Prompts.Stripper = "Strip {input_text}" },
		"judge missing result":            func(c *Config) { c.Prompts.Judge = "Grade {specification}" },
		"worker extra placeholder":        func(c *Config) { c.Prompts.Worker = "{taskListAndText} in {language}" },
		"unescaped json":                  func(c *Config) { c.Prompts.Architect = `{"error": "vague"} {specification}` },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Contains(t, cfgErr.Field, "prompts.")
		})
	}
}

func TestValidateReportsMismatchDetail(t *testing.T) {
	cfg := Default()
	cfg.Prompts.Judge = "Grade {specification}"

	err := cfg.Validate()
	var mismatch *prompt.MismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{InputResult}, mismatch.Missing)
}

func TestValidateRejectsLimits(t *testing.T) {
	cases := map[string]func(*Config){
		"cooldown":   func(c *Config) { c.System.GlobalCooldown = 0 },
		"retries":    func(c *Config) { c.System.MaxRetries = 0 },
		"char limit": func(c *Config) { c.System.InputCharLimit = -1 },
		"delay":      func(c *Config) { c.System.RetryDelayMs = intPtr(-5) },
		"timeout":    func(c *Config) { c.System.CallTimeoutSeconds = 0 },
		"adapter":    func(c *Config) { c.Stages.Default.Adapter = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			var cfgErr *ConfigError
			assert.True(t, errors.As(cfg.Validate(), &cfgErr))
		})
	}
}

func TestDefaultTemplatesMatchStageInputs(t *testing.T) {
	templates, err := Default().Templates()
	require.NoError(t, err)
	for _, stage := range StageNames {
		tmpl := templates[stage]
		require.NotNil(t, tmpl, stage)
		assert.ElementsMatch(t, StageInputs[stage], tmpl.Placeholders())
	}
}

func TestStageTargetOverrides(t *testing.T) {
	stages := StagesConfig{
		Default:   RouteTarget{Adapter: "openrouter", Model: "free"},
		Architect: &RouteTarget{Model: "bigger"},
		Judge:     &RouteTarget{Adapter: "mock"},
	}

	assert.Equal(t, RouteTarget{Adapter: "openrouter", Model: "bigger"}, stages.Target(StageArchitect))
	assert.Equal(t, RouteTarget{Adapter: "mock"}, stages.Target(StageJudge))
	assert.Equal(t, RouteTarget{Adapter: "openrouter", Model: "free"}, stages.Target(StageStripper))
}

func TestLoadFileAdapterOnlyDropsDefaultModel(t *testing.T) {
	clearKeys(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages:\n  default:\n    adapter: mock\n"), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, RouteTarget{Adapter: "mock"}, cfg.Stages.Default)

	routes, err := DefaultAliases().ResolveStages(cfg.Stages)
	require.NoError(t, err)
	assert.Equal(t, RouteTarget{Adapter: "mock"}, routes[StageArchitect])
}

func TestLoadFileKeepsModelForDefaultAdapter(t *testing.T) {
	clearKeys(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages:\n  default:\n    adapter: openrouter\n"), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "z-ai/glm-4.5-air:free", cfg.Stages.Default.Model)
}

func TestLoadFileExplicitZeroRetryDelay(t *testing.T) {
	clearKeys(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system:\n  retry_delay_ms: 0\n"), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Duration(0), cfg.RetryDelay())

	unset := Default()
	unset.System.RetryDelayMs = nil
	assert.Equal(t, 2*time.Second, unset.RetryDelay())
}
