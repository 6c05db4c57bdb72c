package errors

import (
	"errors"
	"fmt"
)

// Kind classifies domain failures so transports can map them without knowing
// every sentinel.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindExecution     Kind = "execution"
	KindUnavailable   Kind = "unavailable"
)

// Error is a classified sentinel. A class sentinel (empty message) matches
// every Error of the same Kind through errors.Is.
type Error struct {
	Kind    Kind
	message string
}

func (e *Error) Error() string {
	if e.message == "" {
		return string(e.Kind)
	}
	return e.message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.message == "" && t.Kind == e.Kind
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, message: message}
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrExecution     = &Error{Kind: KindExecution}
	ErrUnavailable   = &Error{Kind: KindUnavailable}
)

var (
	ErrInvalidRuleInput       = newError(KindValidation, "invalid governance rule input")
	ErrInvalidProposalInput   = newError(KindValidation, "invalid proposal input")
	ErrInvalidVoteInput       = newError(KindValidation, "invalid vote input")
	ErrInvalidDelegationInput = newError(KindValidation, "invalid delegation input")
	ErrInvalidExecutionInput  = newError(KindValidation, "invalid execution input")
	ErrSelfDelegation         = newError(KindValidation, "self-delegation is not allowed")
	ErrNoActiveRule           = newError(KindValidation, "no active governance rule for proposal type")
	ErrIdempotencyKeyRequired = newError(KindValidation, "idempotency key is required")

	ErrActiveRuleExists          = newError(KindConflict, "an active rule already exists for proposal type")
	ErrRuleInactive              = newError(KindConflict, "governance rule is inactive")
	ErrInvalidTransition         = newError(KindConflict, "invalid proposal status transition")
	ErrProposalNotActive         = newError(KindConflict, "proposal is not open for voting")
	ErrVotingWindowClosed        = newError(KindConflict, "voting window is closed")
	ErrVotingWindowOpen          = newError(KindConflict, "voting window is still open")
	ErrProposalNotEditable       = newError(KindConflict, "proposal can only be edited while draft")
	ErrProposalNotApproved       = newError(KindConflict, "proposal is not approved")
	ErrDuplicateVote             = newError(KindConflict, "participant has already voted on this proposal")
	ErrOverlappingDelegation     = newError(KindConflict, "an active delegation with overlapping scope exists")
	ErrDelegationNotActive       = newError(KindConflict, "delegation is not active")
	ErrExecutionAlreadyScheduled = newError(KindConflict, "execution already scheduled for proposal")
	ErrExecutionNotPending       = newError(KindConflict, "execution is not pending")
	ErrExecutionNotDue           = newError(KindConflict, "execution is not due yet")
	ErrExecutionInProgress       = newError(KindConflict, "execution attempt already in progress")
	ErrRetryCeilingReached       = newError(KindConflict, "execution retry ceiling reached")
	ErrNothingToRetry            = newError(KindConflict, "execution has no failed attempt to retry")
	ErrDuplicateSignature        = newError(KindConflict, "signer has already signed this execution")
	ErrMultiSigNotRequired       = newError(KindConflict, "proposal type does not require signatures")
	ErrIdempotencyConflict       = newError(KindConflict, "idempotency key conflict")

	ErrNotAuthorized          = newError(KindAuthorization, "not authorized")
	ErrInsufficientSignatures = newError(KindAuthorization, "insufficient execution signatures")

	ErrRuleNotFound       = newError(KindNotFound, "governance rule not found")
	ErrProposalNotFound   = newError(KindNotFound, "proposal not found")
	ErrVoteNotFound       = newError(KindNotFound, "vote not found")
	ErrDelegationNotFound = newError(KindNotFound, "delegation not found")
	ErrExecutionNotFound  = newError(KindNotFound, "execution not found")

	ErrExecutionFailed       = newError(KindExecution, "proposal execution failed")
	ErrDependencyUnavailable = newError(KindUnavailable, "external dependency unavailable")
)

// TransitionError names the current and requested proposal states.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition.Error(), e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}
