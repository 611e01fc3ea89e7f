package offboarding

import (
	"errors"
	"fmt"
)

// Status is the record's position in the exit workflow. Records enter
// as initiated and move to notice_period or pending_settlement in the
// same transaction, depending on whether the last working day is
// still ahead.
type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusNoticePeriod      Status = "notice_period"
	StatusPendingSettlement Status = "pending_settlement"
	StatusPendingDocuments  Status = "pending_documents"
	StatusPendingApproval   Status = "pending_approval"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusInitiated:         {StatusNoticePeriod, StatusPendingSettlement, StatusCancelled},
	StatusNoticePeriod:      {StatusPendingDocuments, StatusCancelled},
	StatusPendingSettlement: {StatusPendingDocuments, StatusCancelled},
	StatusPendingDocuments:  {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval:   {StatusCompleted, StatusCancelled},
	StatusCompleted:         {},
	StatusCancelled:         {},
}

// AllStatuses enumerates every storable offboarding status.
func AllStatuses() []Status {
	return []Status{
		StatusInitiated, StatusNoticePeriod, StatusPendingSettlement,
		StatusPendingDocuments, StatusPendingApproval, StatusCompleted, StatusCancelled,
	}
}

// CanTransitionTo reports whether the move s -> to is in the table.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves this status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// guard returns a TransitionError unless s -> to is allowed.
func (s Status) guard(to Status) error {
	if !s.CanTransitionTo(to) {
		return &TransitionError{From: s, To: to}
	}
	return nil
}

// TransitionError reports an attempted move not present in the
// transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("offboarding: invalid transition %s -> %s", e.From, e.To)
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("offboarding: invalid %s: %s", e.Field, e.Reason)
}

var (
	// ErrNotFound is returned when no offboarding row matches the lookup.
	ErrNotFound = errors.New("offboarding: not found")
	// ErrActiveOffboarding signals an initiation attempt while another
	// non-terminal offboarding exists for the contractor.
	ErrActiveOffboarding = errors.New("offboarding: contractor already has an active offboarding")
	// ErrConflict signals a guarded write that lost a concurrent race.
	ErrConflict = errors.New("offboarding: concurrent modification")
	// ErrSettlementMissing signals an approval attempt before any
	// settlement was calculated.
	ErrSettlementMissing = errors.New("offboarding: settlement not calculated")
)
