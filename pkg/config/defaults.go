package config

const defaultArchitectPrompt = `You are the Architect. Read the project specification below and break it
into an ordered list of concrete implementation tasks.

Respond with JSON only, in this shape:
{{"tasks": [{{"id": 1, "title": "...", "details": "..."}}]}}

If the specification is too vague to plan, respond with exactly:
{{"error": "The specification is too vague: <what is missing>"}}

Specification:
{specification}
`

const defaultStripperPrompt = `Extract the task list from the text below. Remove commentary, markdown
fences and any text that is not part of the plan. Return only the cleaned
task list.

Text:
{inputText}
`

const defaultWorkerPrompt = `You are the Worker. Implement every task in the list below. Produce the
complete implementation, file by file, with no placeholders.

Tasks:
{taskListAndText}
`

const defaultJudgePrompt = `You are the Judge. Compare the implementation with the original
specification and grade how completely and correctly it satisfies it.

Specification:
{specification}

Implementation:
{result}

Answer with exactly these two lines first, then any analysis:
Score (out of 10): <integer>
Discrepancy: <the most important gap, fewer than 50 words>
`

const defaultRetryDelayMs = 2000

func intPtr(v int) *int {
	return &v
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		System: SystemConfig{
			GlobalCooldown:     30,
			MaxRetries:         3,
			InputCharLimit:     10000,
			RetryDelayMs:       intPtr(defaultRetryDelayMs),
			CallTimeoutSeconds: 30,
		},
		Prompts: PromptsConfig{
			Architect: defaultArchitectPrompt,
			Stripper:  defaultStripperPrompt,
			Worker:    defaultWorkerPrompt,
			Judge:     defaultJudgePrompt,
		},
		Stages: StagesConfig{
			Default: RouteTarget{Adapter: "openrouter", Model: "z-ai/glm-4.5-air:free"},
		},
	}
}
