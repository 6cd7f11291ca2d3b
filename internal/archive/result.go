package archive

import (
	"fmt"

	"github.com/basket/archivist/internal/persistence"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial_failure"
	OutcomeFailure Outcome = "failure"
)

// Step is the result of one remote sub-operation.
type Step struct {
	Target    string
	ChannelID string
	Err       error
}

func (s Step) OK() bool {
	return s.Err == nil
}

// OpResult collects the steps of a multi-channel operation.
type OpResult struct {
	Op      string
	Archive string
	Record  *persistence.ArchiveRecord
	Steps   []Step
}

// Outcome classifies the steps. An operation with no remote steps succeeded.
func (r *OpResult) Outcome() Outcome {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return OutcomeSuccess
	case failed == len(r.Steps):
		return OutcomeFailure
	default:
		return OutcomePartial
	}
}

func (r *OpResult) Failed() []Step {
	var out []Step
	for _, s := range r.Steps {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

func (r *OpResult) Succeeded() int {
	return len(r.Steps) - len(r.Failed())
}

// Err returns nil on success and a *PartialFailureError otherwise.
func (r *OpResult) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(failed))
	for _, s := range failed {
		msgs = append(msgs, fmt.Sprintf("%s: %v", s.Target, s.Err))
	}
	return &PartialFailureError{Op: r.Op, Archive: r.Archive, Failures: msgs}
}
