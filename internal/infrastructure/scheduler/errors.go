package scheduler

import "errors"

var (
	// ErrPassInProgress is returned when a pass is triggered while the
	// previous run of the same pass is still executing
	ErrPassInProgress = errors.New("scheduler pass already in progress")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
