// Package pipeline sequences the Architect, Stripper, Worker and Judge
// stages for a single specification.
package pipeline

// Phase is the position of a run in the pipeline.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseArchitecting  Phase = "architecting"
	PhaseStripping     Phase = "stripping"
	PhaseWorking       Phase = "working"
	PhaseJudging       Phase = "judging"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
	PhaseSoftErrorExit Phase = "soft_error_exit"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseArchitecting},
	PhaseArchitecting: {PhaseStripping, PhaseSoftErrorExit, PhaseFailed},
	PhaseStripping:    {PhaseWorking, PhaseFailed},
	PhaseWorking:      {PhaseJudging, PhaseFailed},
	PhaseJudging:      {PhaseDone, PhaseFailed},
}

func (p Phase) String() string {
	return string(p)
}

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseSoftErrorExit
}

// CanTransition reports whether next may follow p.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
