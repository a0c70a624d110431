package pipeline

import (
	"errors"
	"fmt"
)

// ErrRunAbandoned is returned when the event consumer went away mid-run.
// The run is not finalized and nothing is appended to the session.
var ErrRunAbandoned = errors.New("pipeline run abandoned by consumer")

// ValidationError rejects an input before any stage runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FatalError aborts a run. Only the transcription stage produces it.
type FatalError struct {
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
