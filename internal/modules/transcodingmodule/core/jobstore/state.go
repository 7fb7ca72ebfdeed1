package jobstore

import (
	"fmt"

	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// StateMachine holds the legal job state transitions
type StateMachine struct {
	transitions map[types.JobState][]types.JobState
}

// StateTransitionError represents an invalid state transition error
type StateTransitionError struct {
	JobID string
	From  types.JobState
	To    types.JobState
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// Unwrap lets callers match ErrInvalidTransition
func (e *StateTransitionError) Unwrap() error {
	return tErrors.ErrInvalidTransition
}

// NewStateMachine creates the job lifecycle:
// created -> probing -> encoding -> packaging -> completed, where any
// non-terminal state may also end in failed or cancelled.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[types.JobState][]types.JobState{
			types.JobStateCreated: {
				types.JobStateProbing,
				types.JobStateFailed,
				types.JobStateCancelled,
			},
			types.JobStateProbing: {
				types.JobStateEncoding,
				types.JobStateFailed,
				types.JobStateCancelled,
			},
			types.JobStateEncoding: {
				types.JobStatePackaging,
				types.JobStateFailed,
				types.JobStateCancelled,
			},
			types.JobStatePackaging: {
				types.JobStateCompleted,
				types.JobStateFailed,
				types.JobStateCancelled,
			},
		},
	}
}

// Validate returns a StateTransitionError unless from -> to is allowed
func (sm *StateMachine) Validate(jobID string, from, to types.JobState) error {
	for _, allowed := range sm.transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &StateTransitionError{JobID: jobID, From: from, To: to}
}

