package services

import "errors"

var (
	// ErrNotFound: record missing or not owned by the caller
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument: input rejected before touching the store
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOptimisticLock: the profile kept changing underneath an XP award
	ErrOptimisticLock = errors.New("profile was modified concurrently, retry")
	// ErrConflict: the record is not in a state that allows the operation
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition: onboarding state machine rejected the move
	ErrInvalidTransition = errors.New("invalid onboarding transition")
)
