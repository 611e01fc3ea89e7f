package contract

import (
	"errors"
	"fmt"
)

// Status is the contract's position in the signing workflow. The
// transition table below is the only definition of the partial order;
// storage keeps plain text validated against it.
type Status string

const (
	StatusDraft               Status = "draft"
	StatusSent                Status = "sent"
	StatusReviewed            Status = "reviewed"
	StatusPendingCounterparty Status = "pending_counterparty_signature"
	StatusSigned              Status = "signed"
	StatusValidated           Status = "validated"
	StatusActivated           Status = "activated"
	StatusDeclined            Status = "declined"
)

// transitions maps each status to the statuses reachable from it.
// Draft lists itself because Generate may re-render a draft in place.
var transitions = map[Status][]Status{
	StatusDraft:               {StatusDraft, StatusSent, StatusDeclined},
	StatusSent:                {StatusReviewed, StatusPendingCounterparty, StatusDeclined},
	StatusReviewed:            {StatusPendingCounterparty, StatusDeclined},
	StatusPendingCounterparty: {StatusSigned, StatusDeclined},
	StatusSigned:              {StatusValidated},
	StatusValidated:           {StatusActivated},
	StatusActivated:           {},
	StatusDeclined:            {},
}

// All enumerates every storable contract status.
func AllStatuses() []Status {
	return []Status{
		StatusDraft, StatusSent, StatusReviewed, StatusPendingCounterparty,
		StatusSigned, StatusValidated, StatusActivated, StatusDeclined,
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
// transition table, carrying current vs requested status.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("contract: invalid transition %s -> %s", e.From, e.To)
}

var (
	// ErrNotFound is returned when no contract row matches the lookup.
	ErrNotFound = errors.New("contract: not found")
	// ErrTemplateNotFound is returned when the referenced template is
	// missing or inactive.
	ErrTemplateNotFound = errors.New("contract: template not found")
	// ErrConflict signals a guarded write that lost a concurrent race:
	// the row's status no longer matched the one the transition was
	// validated against.
	ErrConflict = errors.New("contract: concurrent modification")
)
