package models

import "errors"

var (
	// ErrTrialTimeout indicates a trial did not finish within its timeout.
	ErrTrialTimeout = errors.New("trial timed out")
	// ErrNavigation indicates the browser could not complete navigation.
	ErrNavigation = errors.New("navigation failed")
	// ErrNetwork indicates the target could not be reached.
	ErrNetwork = errors.New("network error")
	// ErrInvalidTarget indicates the target URL was rejected before any trial.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrMissingPrimary indicates a trial produced no value for the primary metric.
	ErrMissingPrimary = errors.New("trial reported no primary metric")
	// ErrRunNotFound indicates no comparison run with the requested id exists.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists indicates a comparison run with the requested id is already active.
	ErrRunExists = errors.New("run already exists")
)
