package stage

import (
	"context"
	"fmt"

	"github.com/zen-systems/lanepro/pkg/adapter"
	"github.com/zen-systems/lanepro/pkg/config"
	"github.com/zen-systems/lanepro/pkg/prompt"
)

// Set holds the four pipeline stages.
type Set struct {
	architect *Stage
	stripper  *Stage
	worker    *Stage
	judge     *Stage
}

// NewSet wires every stage from parsed templates, routes and adapters. All
// stages share gate.
func NewSet(
	templates map[string]*prompt.Template,
	routes map[string]config.RouteTarget,
	adapters map[string]adapter.Adapter,
	gate Gate,
	opts ...Option,
) (*Set, error) {
	built := make(map[string]*Stage, len(config.StageNames))
	for _, name := range config.StageNames {
		route, ok := routes[name]
		if !ok {
			return nil, &config.ConfigError{Field: "stages." + name, Err: fmt.Errorf("no route configured")}
		}
		client, ok := adapters[route.Adapter]
		if !ok {
			return nil, &config.ConfigError{Field: "stages." + name, Err: fmt.Errorf("adapter %q not available", route.Adapter)}
		}
		s, err := New(name, templates[name], client, route.Model, gate, opts...)
		if err != nil {
			return nil, err
		}
		built[name] = s
	}

	return &Set{
		architect: built[config.StageArchitect],
		stripper:  built[config.StageStripper],
		worker:    built[config.StageWorker],
		judge:     built[config.StageJudge],
	}, nil
}

// Stages returns the stages in pipeline order.
func (s *Set) Stages() []*Stage {
	return []*Stage{s.architect, s.stripper, s.worker, s.judge}
}

// Architect turns a specification into a raw task plan.
func (s *Set) Architect(ctx context.Context, specification string) (*Output, error) {
	return s.architect.Run(ctx, map[string]string{config.InputSpecification: specification})
}

// Strip cleans the Architect's raw output. The returned text is trimmed.
func (s *Set) Strip(ctx context.Context, inputText string) (*Output, error) {
	return s.stripper.Run(ctx, map[string]string{config.InputText: inputText})
}

// Work implements the stripped task list.
func (s *Set) Work(ctx context.Context, taskListAndText string) (*Output, error) {
	return s.worker.Run(ctx, map[string]string{config.InputTaskListAndText: taskListAndText})
}

// Judge grades the Worker's result against the specification.
func (s *Set) Judge(ctx context.Context, specification, result string) (*Output, error) {
	return s.judge.Run(ctx, map[string]string{
		config.InputSpecification: specification,
		config.InputResult:        result,
	})
}

// Target returns the route of the named stage.
func (s *Set) Target(name string) (config.RouteTarget, bool) {
	for _, st := range s.Stages() {
		if st.Name() == name {
			return st.Target(), true
		}
	}
	return config.RouteTarget{}, false
}
