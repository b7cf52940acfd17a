package pipeline

import (
	"fmt"
	"time"
)

// CooldownError refuses a run started before the run cooldown elapsed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active, next run possible in %s", e.Remaining.Round(time.Second))
}

// Failure is returned when a stage could not complete.
type Failure struct {
	Phase    Phase
	Attempts int
	Err      error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Phase, e.Attempts, e.Err)
}

func (e *Failure) Unwrap() error {
	return e.Err
}
