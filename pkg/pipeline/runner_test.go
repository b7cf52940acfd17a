package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zen-systems/lanepro/pkg/adapter"
	"github.com/zen-systems/lanepro/pkg/config"
	"github.com/zen-systems/lanepro/pkg/evidence"
	"github.com/zen-systems/lanepro/pkg/metrics"
	"github.com/zen-systems/lanepro/pkg/stage"
)

const judgeOutput = "Score (out of 10): 7\nDiscrepancy: Missing error handling for null input.\n"

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type stageReply struct {
	text string
	err  error
}

// fakeStages answers each stage from a per-stage script. A stage with an
// exhausted script repeats its last reply.
type fakeStages struct {
	mu      sync.Mutex
	replies map[string][]stageReply
	calls   map[string]int
	inputs  map[string][]string
}

func newFakeStages() *fakeStages {
	return &fakeStages{
		replies: map[string][]stageReply{
			config.StageArchitect: {{text: `{"tasks": ["build it"]}`}},
			config.StageStripper:  {{text: `["build it"]`}},
			config.StageWorker:    {{text: "func main() {}"}},
			config.StageJudge:     {{text: judgeOutput}},
		},
		calls:  make(map[string]int),
		inputs: make(map[string][]string),
	}
}

func (f *fakeStages) script(name string, replies ...stageReply) *fakeStages {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[name] = replies
	return f
}

func (f *fakeStages) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeStages) answer(name string, inputs ...string) (*stage.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.inputs[name] = append(f.inputs[name], inputs...)

	script := f.replies[name]
	idx := f.calls[name] - 1
	if idx >= len(script) {
		idx = len(script) - 1
	}
	reply := script[idx]
	if reply.err != nil {
		return nil, reply.err
	}
	return &stage.Output{
		Stage:    name,
		Text:     reply.text,
		Prompt:   "prompt for " + name,
		Template: "template for " + name,
		Adapter:  "mock",
		Model:    "mock-1",
		Usage:    adapter.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}, nil
}

func (f *fakeStages) Architect(_ context.Context, specification string) (*stage.Output, error) {
	return f.answer(config.StageArchitect, specification)
}

func (f *fakeStages) Strip(_ context.Context, inputText string) (*stage.Output, error) {
	return f.answer(config.StageStripper, inputText)
}

func (f *fakeStages) Work(_ context.Context, taskListAndText string) (*stage.Output, error) {
	return f.answer(config.StageWorker, taskListAndText)
}

func (f *fakeStages) Judge(_ context.Context, specification, result string) (*stage.Output, error) {
	return f.answer(config.StageJudge, specification, result)
}

func modelErr(msg string) error {
	return &adapter.ModelError{Adapter: "mock", Message: msg}
}

func newTestRunner(t *testing.T, stages Stages, opts ...Option) (*Runner, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock)}, opts...)
	r, err := NewRunner(stages, opts...)
	require.NoError(t, err)
	return r, clock
}

func TestRunHappyPath(t *testing.T) {
	stages := newFakeStages()
	var milestones []int
	r, _ := newTestRunner(t, stages, WithProgress(func(m Milestone) {
		milestones = append(milestones, m.Percent)
	}))

	res, err := r.Run(context.Background(), "Build a CLI that sums numbers")
	require.NoError(t, err)

	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, "7", res.Score)
	assert.Equal(t, "Missing error handling for null input.", res.Discrepancy)
	assert.Equal(t, "func main() {}", res.ImplementationResult)
	assert.Equal(t, judgeOutput, res.JudgeVerdictRaw)
	assert.Equal(t, 12, res.Usage.TotalTokens)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.ReportDir)

	assert.Equal(t, PhaseDone, res.State.Phase)
	assert.Equal(t, judgeOutput, res.State.FinalOutput)
	assert.Equal(t, res.State, r.State())
	assert.Equal(t, []int{0, 25, 50, 75, 90, 100}, milestones)

	// Each stage receives the previous stage's output.
	assert.Equal(t, []string{`{"tasks": ["build it"]}`}, stages.inputs[config.StageStripper])
	assert.Equal(t, []string{`["build it"]`}, stages.inputs[config.StageWorker])
	assert.Equal(t, []string{"Build a CLI that sums numbers", "func main() {}"}, stages.inputs[config.StageJudge])
}

func TestRunJudgeWithoutPatterns(t *testing.T) {
	stages := newFakeStages().script(config.StageJudge, stageReply{text: "Looks reasonable."})
	r, _ := newTestRunner(t, stages)

	res, err := r.Run(context.Background(), "spec")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.State.Phase)
	assert.Equal(t, NotAvailable, res.Score)
	assert.Equal(t, NotAvailable, res.Discrepancy)
}

func TestRunSoftErrorHaltsAfterArchitect(t *testing.T) {
	refusal := `{"error": "The specification is too vague to break into tasks."}`
	stages := newFakeStages().script(config.StageArchitect, stageReply{text: refusal})
	var milestones []Milestone
	r, _ := newTestRunner(t, stages, WithProgress(func(m Milestone) {
		milestones = append(milestones, m)
	}))

	res, err := r.Run(context.Background(), "Build a TODO app")
	require.NoError(t, err)

	assert.Equal(t, OutcomeSoftError, res.Outcome)
	assert.Equal(t, PhaseSoftErrorExit, res.State.Phase)
	assert.True(t, res.State.ErrorOccurred)
	assert.Equal(t, refusal, res.State.FinalOutput)
	assert.Equal(t, refusal, res.State.ErrorMessage)
	assert.Equal(t, 1, stages.Calls(config.StageArchitect))
	assert.Zero(t, stages.Calls(config.StageStripper))
	assert.Zero(t, stages.Calls(config.StageWorker))
	assert.Zero(t, stages.Calls(config.StageJudge))

	require.Len(t, milestones, 2)
	assert.Equal(t, 100, milestones[1].Percent)
	assert.Equal(t, PhaseSoftErrorExit, milestones[1].Phase)
}

func TestRunRetriesThenSucceeds(t *testing.T) {
	stages := newFakeStages().script(config.StageWorker,
		stageReply{err: modelErr("timeout")},
		stageReply{err: modelErr("timeout")},
		stageReply{text: "done"},
	)
	r, clock := newTestRunner(t, stages, WithRetry(3, 2*time.Second))

	res, err := r.Run(context.Background(), "spec")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 3, stages.Calls(config.StageWorker))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestRunFailsAfterExhaustingRetries(t *testing.T) {
	stages := newFakeStages().script(config.StageStripper, stageReply{err: modelErr("service unavailable")})
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	require.NoError(t, err)
	r, clock := newTestRunner(t, stages, WithRetry(4, time.Second), WithMetrics(collectors))

	res, err := r.Run(context.Background(), "spec")

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, PhaseStripping, failure.Phase)
	assert.Equal(t, 4, failure.Attempts)
	var modelError *adapter.ModelError
	require.ErrorAs(t, err, &modelError)
	assert.Contains(t, modelError.Error(), "service unavailable")

	assert.Equal(t, 4, stages.Calls(config.StageStripper))
	assert.Len(t, clock.Sleeps(), 3)
	assert.Zero(t, stages.Calls(config.StageWorker))

	require.NotNil(t, res)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, PhaseFailed, res.State.Phase)
	assert.True(t, res.State.ErrorOccurred)
	assert.Contains(t, res.State.ErrorMessage, "4 attempts")
	assert.Contains(t, res.State.ErrorMessage, "service unavailable")
	assert.Equal(t, `{"tasks": ["build it"]}`, res.State.Plan)
	assert.Empty(t, res.State.StrippedPlan)

	expected := `
# HELP lanepro_stage_retries_total Stage attempts that failed and were retried.
# TYPE lanepro_stage_retries_total counter
lanepro_stage_retries_total{stage="stripper"} 3
# HELP lanepro_runs_total Pipeline runs, by outcome.
# TYPE lanepro_runs_total counter
lanepro_runs_total{outcome="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "lanepro_stage_retries_total", "lanepro_runs_total"))
}

func TestRunDoesNotRetryNonModelErrors(t *testing.T) {
	cfgErr := &config.ConfigError{Field: "prompts.architect", Err: errors.New("missing value")}
	stages := newFakeStages().script(config.StageArchitect, stageReply{err: cfgErr})
	r, clock := newTestRunner(t, stages, WithRetry(3, time.Second))

	_, err := r.Run(context.Background(), "spec")
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 1, failure.Attempts)
	assert.ErrorIs(t, err, cfgErr)
	assert.Equal(t, 1, stages.Calls(config.StageArchitect))
	assert.Empty(t, clock.Sleeps())
}

func TestRunRejectsInvalidSpecification(t *testing.T) {
	stages := newFakeStages()
	r, _ := newTestRunner(t, stages, WithInputLimit(5))

	_, err := r.Run(context.Background(), "too long")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = r.Run(context.Background(), "   ")
	require.ErrorAs(t, err, &verr)

	assert.Zero(t, stages.Calls(config.StageArchitect))
	assert.Equal(t, PhaseIdle, r.State().Phase)

	_, err = r.Run(context.Background(), "12345")
	require.NoError(t, err)
}

func TestRunCooldown(t *testing.T) {
	stages := newFakeStages()
	r, clock := newTestRunner(t, stages, WithRunCooldown(30*time.Second))

	_, err := r.Run(context.Background(), "first")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = r.Run(context.Background(), "second")
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Equal(t, 20*time.Second, cooldown.Remaining)
	assert.Equal(t, 1, stages.Calls(config.StageArchitect))

	clock.Advance(20 * time.Second)
	_, err = r.Run(context.Background(), "third")
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "fourth")
	require.ErrorAs(t, err, &cooldown)

	r.Reset()
	assert.Equal(t, PhaseIdle, r.State().Phase)
	assert.Empty(t, r.State().Specification)
	_, err = r.Run(context.Background(), "fifth")
	require.NoError(t, err)
	assert.Equal(t, 3, stages.Calls(config.StageArchitect))
}

func TestRunCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := newFakeStages()
	stages.replies[config.StageArchitect] = []stageReply{{err: modelErr("boom")}}
	r, err := NewRunner(stages, WithClock(cancellingClock{cancel: cancel}), WithRetry(5, time.Second))
	require.NoError(t, err)

	res, err := r.Run(ctx, "spec")
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stages.Calls(config.StageArchitect))
	assert.Equal(t, PhaseFailed, res.State.Phase)
}

// cancellingClock cancels the run on its first sleep.
type cancellingClock struct {
	cancel context.CancelFunc
}

func (cancellingClock) Now() time.Time {
	return time.Now()
}

func (c cancellingClock) Sleep(ctx context.Context, _ time.Duration) error {
	c.cancel()
	return ctx.Err()
}

func TestRunWritesReport(t *testing.T) {
	dir := t.TempDir()
	stages := newFakeStages().script(config.StageArchitect,
		stageReply{err: modelErr("flaky")},
		stageReply{text: `{"tasks": []}`},
	)
	r, _ := newTestRunner(t, stages, WithReportDir(dir))

	res, err := r.Run(context.Background(), "spec")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, res.RunID), res.ReportDir)

	data, err := os.ReadFile(filepath.Join(res.ReportDir, "run.json"))
	require.NoError(t, err)
	var run evidence.RunRecord
	require.NoError(t, json.Unmarshal(data, &run))
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, string(OutcomeDone), run.Outcome)
	assert.Equal(t, "7", run.Score)
	assert.Equal(t, evidence.HashBytes([]byte("spec")), run.SpecificationHash)
	assert.Equal(t, 12, run.Usage.TotalTokens)
	assert.NotEmpty(t, run.FinalOutputRef)

	data, err = os.ReadFile(filepath.Join(res.ReportDir, "stages", "architect.json"))
	require.NoError(t, err)
	var architect evidence.StageRecord
	require.NoError(t, json.Unmarshal(data, &architect))
	assert.True(t, architect.Succeeded)
	assert.Equal(t, "mock", architect.Adapter)
	assert.Equal(t, evidence.HashBytes([]byte("template for architect")), architect.TemplateHash)
	require.Len(t, architect.Attempts, 2)
	assert.False(t, architect.Attempts[0].Succeeded)
	assert.Contains(t, architect.Attempts[0].Error, "flaky")
	assert.True(t, architect.Attempts[1].Succeeded)

	output, err := os.ReadFile(filepath.Join(res.ReportDir, architect.OutputRef))
	require.NoError(t, err)
	assert.Equal(t, `{"tasks": []}`, string(output))
}

func TestRunReportFailureKeepsCooldownFree(t *testing.T) {
	base := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, os.WriteFile(base, []byte("not a directory"), 0600))
	stages := newFakeStages()
	r, _ := newTestRunner(t, stages, WithRunCooldown(30*time.Second), WithReportDir(base))

	_, err := r.Run(context.Background(), "spec")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open run report")
	assert.Zero(t, stages.Calls(config.StageArchitect))

	// The refused run did not start the cooldown.
	r.reportDir = t.TempDir()
	_, err = r.Run(context.Background(), "spec")
	require.NoError(t, err)
	assert.Equal(t, 1, stages.Calls(config.StageArchitect))
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(nil)
	assert.Error(t, err)
	_, err = NewRunner(newFakeStages(), WithRetry(0, time.Second))
	assert.Error(t, err)
	_, err = NewRunner(newFakeStages(), WithInputLimit(0))
	assert.Error(t, err)
}
