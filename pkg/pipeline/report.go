package pipeline

import (
	"runtime"
	"time"

	"github.com/zen-systems/lanepro/pkg/config"
	"github.com/zen-systems/lanepro/pkg/evidence"
	"github.com/zen-systems/lanepro/pkg/stage"
)

// runReport accumulates what a run writes to its report directory. A nil
// *runReport records nothing.
type runReport struct {
	writer *evidence.Writer
	run    evidence.RunRecord
	start  time.Time
}

func openReport(baseDir, runID, specification string, started time.Time) (*runReport, error) {
	if baseDir == "" {
		return nil, nil
	}
	writer, err := evidence.NewWriter(baseDir, runID)
	if err != nil {
		return nil, err
	}
	return &runReport{
		writer: writer,
		start:  started,
		run: evidence.RunRecord{
			ID:                runID,
			StartedAt:         started.UTC(),
			SpecificationHash: evidence.HashBytes([]byte(specification)),
			ToolVersions:      map[string]string{"go": runtime.Version()},
		},
	}, nil
}

func (r *runReport) dir() string {
	if r == nil {
		return ""
	}
	return r.writer.RunDir()
}

func (r *runReport) stage(name string, target config.RouteTarget, out *stage.Output, attempts []evidence.AttemptRecord, elapsed time.Duration) error {
	if r == nil {
		return nil
	}
	record := evidence.StageRecord{
		Name:           name,
		Adapter:        target.Adapter,
		Model:          target.Model,
		Attempts:       attempts,
		DurationMillis: elapsed.Milliseconds(),
	}
	if out != nil {
		record.Succeeded = true
		record.Adapter = out.Adapter
		record.Model = out.Model
		record.Usage = out.Usage
		if out.Template != "" {
			record.TemplateHash = evidence.HashBytes([]byte(out.Template))
		}
		r.run.Usage = r.run.Usage.Add(out.Usage)

		ref, sha, err := r.writer.WriteBlob(name+"_prompt", []byte(out.Prompt))
		if err != nil {
			return err
		}
		record.PromptRef, record.PromptHash = ref, sha

		ref, sha, err = r.writer.WriteBlob(name+"_output", []byte(out.Text))
		if err != nil {
			return err
		}
		record.OutputRef, record.OutputHash = ref, sha
	}
	return r.writer.WriteStage(record)
}

func (r *runReport) finish(state State, outcome Outcome, verdict Verdict, finished time.Time) error {
	if r == nil {
		return nil
	}
	r.run.Outcome = string(outcome)
	r.run.Phase = state.Phase.String()
	r.run.ErrorMessage = state.ErrorMessage
	r.run.DurationMillis = finished.Sub(r.start).Milliseconds()
	if outcome == OutcomeDone {
		r.run.Score = verdict.Score
		r.run.Discrepancy = verdict.Discrepancy
	}
	if state.FinalOutput != "" {
		ref, _, err := r.writer.WriteBlob("final_output", []byte(state.FinalOutput))
		if err != nil {
			return err
		}
		r.run.FinalOutputRef = ref
	}
	return r.writer.WriteRun(r.run)
}
