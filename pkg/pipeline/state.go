package pipeline

import "fmt"

// State is a snapshot of one run. Transitions return a new State and leave
// the receiver untouched, so a State handed out by the Runner never changes.
type State struct {
	Phase                Phase
	Specification        string
	Plan                 string
	StrippedPlan         string
	ImplementationResult string
	JudgeVerdict         string
	FinalOutput          string
	ErrorOccurred        bool
	ErrorMessage         string
}

// NewState returns an idle state for specification.
func NewState(specification string) State {
	return State{Phase: PhaseIdle, Specification: specification}
}

// TransitionError reports an out-of-order state change.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

func (s State) to(next Phase) (State, error) {
	if !s.Phase.CanTransition(next) {
		return s, &TransitionError{From: s.Phase, To: next}
	}
	s.Phase = next
	return s, nil
}

// Begin moves an idle state with a specification into Architecting.
func (s State) Begin() (State, error) {
	if s.Specification == "" {
		return s, fmt.Errorf("specification is required")
	}
	return s.to(PhaseArchitecting)
}

// WithPlan records the Architect output and moves to Stripping.
func (s State) WithPlan(plan string) (State, error) {
	next, err := s.to(PhaseStripping)
	if err != nil {
		return s, err
	}
	next.Plan = plan
	return next, nil
}

// SoftExit ends the run after the Architect declined the specification.
// The Architect output becomes both the final output and the error message.
func (s State) SoftExit(plan string) (State, error) {
	next, err := s.to(PhaseSoftErrorExit)
	if err != nil {
		return s, err
	}
	next.Plan = plan
	next.FinalOutput = plan
	next.ErrorOccurred = true
	next.ErrorMessage = plan
	return next, nil
}

// WithStrippedPlan records the Stripper output and moves to Working.
func (s State) WithStrippedPlan(stripped string) (State, error) {
	next, err := s.to(PhaseWorking)
	if err != nil {
		return s, err
	}
	next.StrippedPlan = stripped
	return next, nil
}

// WithResult records the Worker output and moves to Judging.
func (s State) WithResult(result string) (State, error) {
	next, err := s.to(PhaseJudging)
	if err != nil {
		return s, err
	}
	next.ImplementationResult = result
	return next, nil
}

// WithVerdict records the Judge output as the final output and completes
// the run.
func (s State) WithVerdict(verdict string) (State, error) {
	next, err := s.to(PhaseDone)
	if err != nil {
		return s, err
	}
	next.JudgeVerdict = verdict
	next.FinalOutput = verdict
	return next, nil
}

// Fail marks the run failed with message.
func (s State) Fail(message string) (State, error) {
	next, err := s.to(PhaseFailed)
	if err != nil {
		return s, err
	}
	next.ErrorOccurred = true
	next.ErrorMessage = message
	return next, nil
}
