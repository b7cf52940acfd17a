// Package stage runs a single templated model call: render the prompt, wait
// for the rate limiter, call the model.
package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/zen-systems/lanepro/pkg/adapter"
	"github.com/zen-systems/lanepro/pkg/config"
	"github.com/zen-systems/lanepro/pkg/prompt"
)

// DefaultCallTimeout bounds a single model call.
const DefaultCallTimeout = 30 * time.Second

// Gate is the rate limiter every model call passes through.
type Gate interface {
	Acquire(ctx context.Context) error
}

// Stage is one templated model call.
type Stage struct {
	name     string
	template *prompt.Template
	client   adapter.Adapter
	model    string
	gate     Gate
	timeout  time.Duration
	post     func(string) string
	logger   hclog.Logger
}

// Output is the result of a successful stage call.
type Output struct {
	Stage    string
	Text     string
	Prompt   string
	Template string
	Adapter  string
	Model    string
	Usage    adapter.Usage
	Duration time.Duration
}

// Option configures a Stage.
type Option func(*Stage)

// WithTimeout overrides DefaultCallTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Stage) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the stage logger.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Stage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the named stage. The template's placeholders must match the
// inputs the pipeline supplies to that stage; anything else is a
// *config.ConfigError.
func New(name string, tmpl *prompt.Template, client adapter.Adapter, model string, gate Gate, opts ...Option) (*Stage, error) {
	inputs, ok := config.StageInputs[name]
	if !ok {
		return nil, &config.ConfigError{Field: "stages." + name, Err: fmt.Errorf("unknown stage")}
	}
	if tmpl == nil {
		return nil, &config.ConfigError{Field: "prompts." + name, Err: fmt.Errorf("template is required")}
	}
	if err := tmpl.Expect(inputs...); err != nil {
		return nil, &config.ConfigError{Field: "prompts." + name, Err: err}
	}
	if client == nil {
		return nil, &config.ConfigError{Field: "stages." + name, Err: fmt.Errorf("adapter is required")}
	}
	if gate == nil {
		return nil, fmt.Errorf("stage %s: rate limiter is required", name)
	}
	if model == "" {
		model = adapter.DefaultModel(client)
	}

	s := &Stage{
		name:     name,
		template: tmpl,
		client:   client,
		model:    model,
		gate:     gate,
		timeout:  DefaultCallTimeout,
		logger:   hclog.NewNullLogger(),
	}
	if name == config.StageStripper {
		s.post = strings.TrimSpace
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named(name)
	return s, nil
}

// Name returns the stage name.
func (s *Stage) Name() string {
	return s.name
}

// Target returns the adapter and model the stage calls.
func (s *Stage) Target() config.RouteTarget {
	return config.RouteTarget{Adapter: s.client.Name(), Model: s.model}
}

// Run renders the template with inputs and makes exactly one model call.
// A missing input is a *config.ConfigError raised before the rate limiter
// or the model is touched. A failed or empty model call is a
// *adapter.ModelError.
func (s *Stage) Run(ctx context.Context, inputs map[string]string) (*Output, error) {
	rendered, err := s.template.Render(inputs)
	if err != nil {
		return nil, &config.ConfigError{Field: "prompts." + s.name, Err: err}
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("stage %s: wait for rate limiter: %w", s.name, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug("calling model", "adapter", s.client.Name(), "model", s.model, "prompt_chars", len(rendered))
	start := time.Now()
	resp, err := s.client.Generate(callCtx, s.model, rendered)
	elapsed := time.Since(start)
	if err != nil {
		if !adapter.IsModelError(err) {
			err = &adapter.ModelError{Adapter: s.client.Name(), Message: "call failed", Err: err}
		}
		s.logger.Debug("model call failed", "error", err, "duration", elapsed)
		return nil, err
	}
	if resp == nil {
		return nil, &adapter.ModelError{Adapter: s.client.Name(), Message: "no response"}
	}

	text := resp.Content
	if s.post != nil {
		text = s.post(text)
	}

	return &Output{
		Stage:    s.name,
		Text:     text,
		Prompt:   rendered,
		Template: s.template.Raw(),
		Adapter:  s.client.Name(),
		Model:    s.model,
		Usage:    resp.Usage,
		Duration: elapsed,
	}, nil
}
