package planning

import (
	"fmt"

	"autoplan/internal/model"
)

var allowedTransitions = map[model.Status][]model.Status{
	model.StatusInProgress: {model.StatusCompleted, model.StatusFailed},
	model.StatusCompleted:  {model.StatusAccepted, model.StatusRejected},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to model.Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(job *model.PlanningJob, to model.Status) error {
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, job.Status, to)
	}
	job.Status = to
	return nil
}
