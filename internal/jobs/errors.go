package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrActionNotSupported is returned by Unsupported for every action.
	ErrActionNotSupported = errors.New("jobs: phase action not supported")
	// ErrJobTimedOut rejects actions on a job expired by the sweeper.
	ErrJobTimedOut = errors.New("jobs: job timed out")
	// ErrRejected reports that the phase rights deny the action.
	ErrRejected = errors.New("jobs: rejected by phase rights")
	// ErrUnknownDefinition reports a job name with no registered definition.
	ErrUnknownDefinition = errors.New("jobs: unknown job definition")
	ErrInvalidState      = errors.New("jobs: invalid phase state")
)

// ActionKind names a phase action.
type ActionKind string

const (
	ActionCreate   ActionKind = "create"
	ActionRetrieve ActionKind = "retrieve"
	ActionUpdate   ActionKind = "update"
	ActionDelete   ActionKind = "delete"
)

// ActionError is the failure of one phase action.
type ActionError struct {
	Kind  ActionKind
	Phase string
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s on phase %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
