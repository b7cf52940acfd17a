package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/zen-systems/lanepro/pkg/adapter"
	"github.com/zen-systems/lanepro/pkg/config"
	"github.com/zen-systems/lanepro/pkg/evidence"
	"github.com/zen-systems/lanepro/pkg/metrics"
	"github.com/zen-systems/lanepro/pkg/ratelimit"
	"github.com/zen-systems/lanepro/pkg/retry"
	"github.com/zen-systems/lanepro/pkg/stage"
)

// Stages is the set of model-backed steps a run drives. *stage.Set
// implements it.
type Stages interface {
	Architect(ctx context.Context, specification string) (*stage.Output, error)
	Strip(ctx context.Context, inputText string) (*stage.Output, error)
	Work(ctx context.Context, taskListAndText string) (*stage.Output, error)
	Judge(ctx context.Context, specification, result string) (*stage.Output, error)
}

// targeter is implemented by stage sets that can name a stage's route
// without calling it. Used to label failed stages in run reports.
type targeter interface {
	Target(name string) (config.RouteTarget, bool)
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeSoftError Outcome = "soft_error"
	OutcomeFailed    Outcome = "failed"
)

// Result is what a completed run hands back to the caller.
type Result struct {
	RunID                string
	Outcome              Outcome
	State                State
	Score                string
	Discrepancy          string
	ImplementationResult string
	JudgeVerdictRaw      string
	Usage                adapter.Usage
	ReportDir            string
}

// Runner executes pipeline runs. It is safe for concurrent use; each run
// owns its own State.
type Runner struct {
	stages      Stages
	maxAttempts int
	retryDelay  time.Duration
	runCooldown time.Duration
	inputLimit  int
	clock       ratelimit.Clock
	logger      hclog.Logger
	metrics     *metrics.Collectors
	reportDir   string
	progress    ProgressFunc

	mu        sync.Mutex
	state     State
	lastStart time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithRetry sets the attempts per stage and the pause between them.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(r *Runner) {
		r.maxAttempts = maxAttempts
		r.retryDelay = delay
	}
}

// WithRunCooldown refuses a run that starts less than d after the previous
// run started. Zero disables the check.
func WithRunCooldown(d time.Duration) Option {
	return func(r *Runner) {
		r.runCooldown = d
	}
}

// WithInputLimit sets the maximum specification length in characters.
func WithInputLimit(limit int) Option {
	return func(r *Runner) {
		r.inputLimit = limit
	}
}

// WithClock sets the clock used for the run cooldown and retry pauses.
func WithClock(clock ratelimit.Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger hclog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records stage calls, retries and run outcomes.
func WithMetrics(c *metrics.Collectors) Option {
	return func(r *Runner) {
		r.metrics = c
	}
}

// WithReportDir writes a run report under dir for every run.
func WithReportDir(dir string) Option {
	return func(r *Runner) {
		r.reportDir = dir
	}
}

// WithProgress registers a milestone callback.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner builds a Runner over stages.
func NewRunner(stages Stages, opts ...Option) (*Runner, error) {
	if stages == nil {
		return nil, fmt.Errorf("stages are required")
	}
	r := &Runner{
		stages:      stages,
		maxAttempts: 3,
		retryDelay:  retry.DefaultDelay,
		inputLimit:  10000,
		clock:       ratelimit.SystemClock(),
		logger:      hclog.NewNullLogger(),
		state:       NewState(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", r.maxAttempts)
	}
	if r.inputLimit < 1 {
		return nil, fmt.Errorf("input limit must be at least 1, got %d", r.inputLimit)
	}
	return r, nil
}

// State returns the state of the current or most recent run.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Reset discards the current state and the run cooldown.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = NewState("")
	r.lastStart = time.Time{}
}

// Run validates specification and drives it through every stage.
//
// A soft error from the Architect is a successful run with
// Outcome == OutcomeSoftError. A stage that cannot complete yields a
// *Failure together with a Result whose state records the error.
func (r *Runner) Run(ctx context.Context, specification string) (*Result, error) {
	if err := ValidateSpecification(specification, r.inputLimit); err != nil {
		r.metrics.Run("invalid")
		return nil, err
	}

	started, previous, err := r.claim()
	if err != nil {
		r.metrics.Run("cooldown")
		return nil, err
	}

	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)
	report, err := openReport(r.reportDir, runID, specification, started)
	if err != nil {
		r.release(started, previous)
		return nil, fmt.Errorf("open run report: %w", err)
	}

	state, err := NewState(specification).Begin()
	if err != nil {
		return nil, err
	}
	r.publish(state)

	result := &Result{RunID: runID, ReportDir: report.dir()}
	logger.Info("run started", "chars", len([]rune(specification)))
	r.notify(milestoneStart)

	plan, err := r.step(ctx, logger, report, config.StageArchitect, func(ctx context.Context) (*stage.Output, error) {
		return r.stages.Architect(ctx, specification)
	})
	if err != nil {
		return r.fail(logger, report, result, state, err)
	}
	result.Usage = result.Usage.Add(plan.Usage)

	if IsSoftError(plan.Text) {
		state, err = state.SoftExit(plan.Text)
		if err != nil {
			return nil, err
		}
		logger.Warn("architect rejected the specification")
		return r.finish(logger, report, result, state, OutcomeSoftError, Verdict{}), nil
	}

	state, err = state.WithPlan(plan.Text)
	if err != nil {
		return nil, err
	}
	r.publish(state)
	r.notify(milestoneStripping)

	stripped, err := r.step(ctx, logger, report, config.StageStripper, func(ctx context.Context) (*stage.Output, error) {
		return r.stages.Strip(ctx, plan.Text)
	})
	if err != nil {
		return r.fail(logger, report, result, state, err)
	}
	result.Usage = result.Usage.Add(stripped.Usage)

	state, err = state.WithStrippedPlan(stripped.Text)
	if err != nil {
		return nil, err
	}
	r.publish(state)
	r.notify(milestoneWorking)

	work, err := r.step(ctx, logger, report, config.StageWorker, func(ctx context.Context) (*stage.Output, error) {
		return r.stages.Work(ctx, stripped.Text)
	})
	if err != nil {
		return r.fail(logger, report, result, state, err)
	}
	result.Usage = result.Usage.Add(work.Usage)

	state, err = state.WithResult(work.Text)
	if err != nil {
		return nil, err
	}
	r.publish(state)
	r.notify(milestoneJudging)

	judged, err := r.step(ctx, logger, report, config.StageJudge, func(ctx context.Context) (*stage.Output, error) {
		return r.stages.Judge(ctx, specification, work.Text)
	})
	if err != nil {
		return r.fail(logger, report, result, state, err)
	}
	result.Usage = result.Usage.Add(judged.Usage)
	r.notify(milestoneParsing)

	verdict := ParseVerdict(judged.Text)
	state, err = state.WithVerdict(judged.Text)
	if err != nil {
		return nil, err
	}
	return r.finish(logger, report, result, state, OutcomeDone, verdict), nil
}

// claim enforces the run cooldown and records the start of a new run. It
// returns the start it replaced so a run that never begins can release it.
func (r *Runner) claim() (time.Time, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.runCooldown > 0 && !r.lastStart.IsZero() {
		if elapsed := now.Sub(r.lastStart); elapsed < r.runCooldown {
			return time.Time{}, time.Time{}, &CooldownError{Remaining: r.runCooldown - elapsed}
		}
	}
	previous := r.lastStart
	r.lastStart = now
	return now, previous, nil
}

// release undoes claim unless another run has claimed since.
func (r *Runner) release(started, previous time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastStart.Equal(started) {
		r.lastStart = previous
	}
}

func (r *Runner) publish(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

func (r *Runner) notify(m Milestone) {
	if r.progress != nil {
		r.progress(m)
	}
}

// step runs one stage under the retry policy and records it in the report.
func (r *Runner) step(
	ctx context.Context,
	logger hclog.Logger,
	report *runReport,
	name string,
	call func(ctx context.Context) (*stage.Output, error),
) (*stage.Output, error) {
	var attempts []evidence.AttemptRecord
	policy := retry.Policy{
		MaxAttempts: r.maxAttempts,
		Delay:       r.retryDelay,
		Retryable:   adapter.IsModelError,
		Sleep:       r.clock.Sleep,
		OnRetry: func(attempt int, err error) {
			r.metrics.Retry(name)
			logger.Warn("stage attempt failed, retrying", "stage", name, "attempt", attempt, "max_attempts", r.maxAttempts, "delay", r.retryDelay, "transient", adapter.IsTransient(err), "error", err)
		},
	}

	start := time.Now()
	out, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*stage.Output, error) {
		callStart := time.Now()
		out, err := call(ctx)
		record := evidence.AttemptRecord{Attempt: attempt, DurationMillis: time.Since(callStart).Milliseconds()}
		if err != nil {
			record.Error = err.Error()
			r.metrics.StageCall(name, "error")
		} else {
			record.Succeeded = true
			r.metrics.StageCall(name, "success")
		}
		attempts = append(attempts, record)
		return out, err
	})
	elapsed := time.Since(start)

	var target config.RouteTarget
	if t, ok := r.stages.(targeter); ok {
		target, _ = t.Target(name)
	}
	if reportErr := report.stage(name, target, out, attempts, elapsed); reportErr != nil {
		logger.Error("failed to write stage report", "stage", name, "error", reportErr)
	}

	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		return nil, &Failure{Attempts: len(attempts), Err: err}
	}
	logger.Info("stage complete", "stage", name, "attempts", len(attempts), "duration", elapsed)
	return out, nil
}

func (r *Runner) fail(logger hclog.Logger, report *runReport, result *Result, state State, err error) (*Result, error) {
	var failure *Failure
	if !errors.As(err, &failure) {
		failure = &Failure{Err: err}
	}
	failure.Phase = state.Phase

	failed, transitionErr := state.Fail(failure.Error())
	if transitionErr != nil {
		return nil, transitionErr
	}
	logger.Error("run failed", "phase", failure.Phase, "attempts", failure.Attempts, "error", failure.Err)
	return r.finish(logger, report, result, failed, OutcomeFailed, Verdict{}), failure
}

func (r *Runner) finish(logger hclog.Logger, report *runReport, result *Result, state State, outcome Outcome, verdict Verdict) *Result {
	r.publish(state)

	result.Outcome = outcome
	result.State = state
	if outcome == OutcomeDone {
		result.Score = verdict.Score
		result.Discrepancy = verdict.Discrepancy
		result.ImplementationResult = state.ImplementationResult
		result.JudgeVerdictRaw = state.JudgeVerdict
	}

	if err := report.finish(state, outcome, verdict, r.clock.Now()); err != nil {
		logger.Error("failed to write run report", "error", err)
	}
	r.metrics.Run(string(outcome))

	switch outcome {
	case OutcomeDone:
		r.notify(milestoneDone)
	case OutcomeSoftError:
		r.notify(milestoneSoftExit)
	}
	logger.Info("run finished", "outcome", outcome, "score", result.Score)
	return result
}
