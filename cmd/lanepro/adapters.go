package main

import (
	"fmt"

	"github.com/zen-systems/lanepro/pkg/adapter"
	"github.com/zen-systems/lanepro/pkg/config"
)

var apiKeyEnv = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"google":     "GOOGLE_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
}

// createAdapters builds every adapter the routes use. The mock adapter is
// always available.
func createAdapters(cfg *config.Config, routes map[string]config.RouteTarget) (map[string]adapter.Adapter, error) {
	adapters := map[string]adapter.Adapter{"mock": adapter.NewMockAdapter()}

	for _, route := range routes {
		if _, ok := adapters[route.Adapter]; ok {
			continue
		}

		var (
			a   adapter.Adapter
			err error
		)
		switch route.Adapter {
		case "openrouter":
			a, err = adapter.NewOpenRouterAdapter(cfg.APIKeys.OpenRouter)
		case "openai":
			a, err = adapter.NewOpenAIAdapter(cfg.APIKeys.OpenAI)
		case "anthropic":
			a, err = adapter.NewAnthropicAdapter(cfg.APIKeys.Anthropic)
		case "google":
			a, err = adapter.NewGoogleAdapter(cfg.APIKeys.Google)
		case "deepseek":
			a, err = adapter.NewDeepSeekAdapter(cfg.APIKeys.DeepSeek)
		default:
			return nil, fmt.Errorf("unknown adapter %q", route.Adapter)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s adapter: %w", route.Adapter, err)
		}
		adapters[route.Adapter] = a
	}

	return adapters, nil
}

// checkKeys fails when a routed adapter has no API key.
func checkKeys(cfg *config.Config, routes map[string]config.RouteTarget) error {
	for _, name := range config.StageNames {
		route := routes[name]
		if cfg.HasAdapter(route.Adapter) {
			continue
		}
		if env, ok := apiKeyEnv[route.Adapter]; ok {
			return &config.ConfigError{
				Field: "stages." + name,
				Err:   fmt.Errorf("adapter %s needs an API key; set %s", route.Adapter, env),
			}
		}
		return &config.ConfigError{Field: "stages." + name, Err: fmt.Errorf("unknown adapter %q", route.Adapter)}
	}
	return nil
}
