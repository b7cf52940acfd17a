package config

// Stage names, in pipeline order.
const (
	StageArchitect = "architect"
	StageStripper  = "stripper"
	StageWorker    = "worker"
	StageJudge     = "judge"
)

// StageNames lists every stage in pipeline order.
var StageNames = []string{StageArchitect, StageStripper, StageWorker, StageJudge}

// Template inputs supplied by the pipeline to each stage.
const (
	InputSpecification   = "specification"
	InputText            = "inputText"
	InputTaskListAndText = "taskListAndText"
	InputResult          = "result"
)

// StageInputs maps each stage to the placeholders its template must use.
var StageInputs = map[string][]string{
	StageArchitect: {InputSpecification},
	StageStripper:  {InputText},
	StageWorker:    {InputTaskListAndText},
	StageJudge:     {InputSpecification, InputResult},
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// StagesConfig routes each stage to an adapter and model. Stages without an
// entry use Default; an empty adapter or model inside an entry is filled from
// Default as well.
type StagesConfig struct {
	Default   RouteTarget  `yaml:"default"`
	Architect *RouteTarget `yaml:"architect,omitempty"`
	Stripper  *RouteTarget `yaml:"stripper,omitempty"`
	Worker    *RouteTarget `yaml:"worker,omitempty"`
	Judge     *RouteTarget `yaml:"judge,omitempty"`
}

// Target returns the route for a stage.
func (s StagesConfig) Target(stage string) RouteTarget {
	var override *RouteTarget
	switch stage {
	case StageArchitect:
		override = s.Architect
	case StageStripper:
		override = s.Stripper
	case StageWorker:
		override = s.Worker
	case StageJudge:
		override = s.Judge
	}

	target := s.Default
	if override == nil {
		return target
	}
	if override.Adapter != "" {
		target.Adapter = override.Adapter
		// A model named for the default adapter makes no sense elsewhere.
		target.Model = ""
	}
	if override.Model != "" {
		target.Model = override.Model
	}
	return target
}
