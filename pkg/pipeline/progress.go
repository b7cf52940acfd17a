package pipeline

// Milestone is a progress checkpoint reported while a run advances.
type Milestone struct {
	Percent int
	Phase   Phase
	Message string
}

// ProgressFunc receives milestones in order. It is called on the run's
// goroutine and should return quickly.
type ProgressFunc func(Milestone)

var (
	milestoneStart     = Milestone{Percent: 0, Phase: PhaseArchitecting, Message: "Running Architect stage"}
	milestoneStripping = Milestone{Percent: 25, Phase: PhaseStripping, Message: "Running Stripper stage"}
	milestoneWorking   = Milestone{Percent: 50, Phase: PhaseWorking, Message: "Running Worker stage"}
	milestoneJudging   = Milestone{Percent: 75, Phase: PhaseJudging, Message: "Running Judge stage"}
	milestoneParsing   = Milestone{Percent: 90, Phase: PhaseJudging, Message: "Parsing Judge verdict"}
	milestoneDone      = Milestone{Percent: 100, Phase: PhaseDone, Message: "Pipeline complete"}
	milestoneSoftExit  = Milestone{Percent: 100, Phase: PhaseSoftErrorExit, Message: "Pipeline completed with an early error from the Architect stage"}
)
