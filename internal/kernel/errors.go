package kernel

import (
	"errors"
	"fmt"
)

// ErrorKind classifies governance errors for transport mapping and
// caller branching
type ErrorKind string

const (
	// KindRejection covers events refused before processing: missing
	// actor, frozen project, unauthorized unfreeze
	KindRejection ErrorKind = "REJECTION"
	// KindEvaluation covers faults inside trigger or policy
	// evaluation, such as a condition referencing an unbound key
	KindEvaluation ErrorKind = "EVALUATION"
	// KindPersistence covers event log and state file failures
	KindPersistence ErrorKind = "PERSISTENCE"
	// KindIntegrity covers tampering detected in the audit trail or
	// proof chain
	KindIntegrity ErrorKind = "INTEGRITY"
)

// GovernanceError is the kernel's error type. Callers inspect Kind to
// decide whether the event was refused, failed, or hit infrastructure.
type GovernanceError struct {
	Kind    ErrorKind
	Message string
	EventID string
	Err     error
}

func (e *GovernanceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GovernanceError) Unwrap() error { return e.Err }

// Is matches two governance errors by kind
func (e *GovernanceError) Is(target error) bool {
	var ge *GovernanceError
	if errors.As(target, &ge) {
		return e.Kind == ge.Kind
	}
	return false
}

// Sentinel errors for the rejection paths
var (
	ErrNoActor            = &GovernanceError{Kind: KindRejection, Message: "event has no actor"}
	ErrProjectFrozen      = &GovernanceError{Kind: KindRejection, Message: "project is frozen"}
	ErrUnfreezeNotAllowed = &GovernanceError{Kind: KindRejection, Message: "actor is not allowed to unfreeze"}
	ErrDuplicateEvent     = &GovernanceError{Kind: KindRejection, Message: "event id already processed"}
)

func rejectionError(base *GovernanceError, eventID string) *GovernanceError {
	return &GovernanceError{Kind: base.Kind, Message: base.Message, EventID: eventID}
}

func evaluationError(eventID, message string, err error) *GovernanceError {
	return &GovernanceError{Kind: KindEvaluation, Message: message, EventID: eventID, Err: err}
}

func persistenceError(eventID, message string, err error) *GovernanceError {
	return &GovernanceError{Kind: KindPersistence, Message: message, EventID: eventID, Err: err}
}

func integrityError(message string, err error) *GovernanceError {
	return &GovernanceError{Kind: KindIntegrity, Message: message, Err: err}
}

// IsKind reports whether err is a GovernanceError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var ge *GovernanceError
	return errors.As(err, &ge) && ge.Kind == kind
}
