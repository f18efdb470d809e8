// Package guard holds the admission predicates and the project status
// state machine. Everything here is side-effect free apart from counting
// rows through the supplied store handle.
package guard

import (
	"fmt"

	"unideploy/internal/apperrors"
	"unideploy/pkg/models"
)

// allowedTransitions is the canonical adjacency table for project status.
var allowedTransitions = map[string][]string{
	models.StatusCreated:  {models.StatusBuilt},
	models.StatusBuilt:    {models.StatusWaking, models.StatusRunning},
	models.StatusWaking:   {models.StatusRunning, models.StatusSleeping},
	models.StatusRunning:  {models.StatusSleeping},
	models.StatusSleeping: {models.StatusWaking},
}

// ValidateTransition checks that current→target is a legal edge.
// Identity transitions are always allowed, which is what makes repeated
// start/stop calls idempotent.
func ValidateTransition(current, target string) error {
	if current == target {
		return nil
	}
	for _, t := range allowedTransitions[current] {
		if t == target {
			return nil
		}
	}
	return apperrors.Validation(fmt.Sprintf("Illegal status transition: %s -> %s", current, target))
}
