// Package contractor holds the contractor aggregate shared by the
// signing and offboarding workflows. Both state machines flip the
// contractor's status inside their own transactions; the closed status
// set below is the single source of truth for what those flips may be.
package contractor

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOnboarding       Status = "onboarding"
	StatusPendingSignature Status = "pending_signature"
	StatusActive           Status = "active"
	StatusSuspended        Status = "suspended"
	StatusNoticePeriod     Status = "notice_period"
	StatusOffboarding      Status = "offboarding"
	StatusOffboarded       Status = "offboarded"
)

// All enumerates every storable contractor status. Storage keeps plain
// text validated against this set, so code and schema cannot diverge.
func All() []Status {
	return []Status{
		StatusOnboarding,
		StatusPendingSignature,
		StatusActive,
		StatusSuspended,
		StatusNoticePeriod,
		StatusOffboarding,
		StatusOffboarded,
	}
}

// Offboardable reports whether an exit workflow may be initiated for a
// contractor in this status.
func (s Status) Offboardable() bool {
	return s == StatusActive || s == StatusSuspended
}

// Contractor mirrors the contractors table columns the workflows
// touch. Money fields are decimals end to end.
type Contractor struct {
	ID            string
	FirstName     string
	Surname       string
	Email         string
	Role          string
	ClientName    string
	ClientAddress string
	Location      string
	Duration      string
	StartDate     *time.Time
	EndDate       *time.Time

	DayRate        decimal.Decimal
	MonthlyRate    decimal.Decimal
	Currency       string
	LeaveAllowance decimal.Decimal
	LeaveUsed      decimal.Decimal
	Reimbursements decimal.Decimal
	Deductions     decimal.Decimal

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName is the display name used on rendered documents.
func (c Contractor) FullName() string {
	return c.FirstName + " " + c.Surname
}

// DocumentRef is one entry in a contractor's document list.
type DocumentRef struct {
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	ContractID string    `json:"contract_id,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// Snapshot flattens the fields document rendering needs. The snapshot
// is captured at render time; later contractor edits do not rewrite
// already rendered content.
func (c Contractor) Snapshot() map[string]any {
	start := ""
	if c.StartDate != nil {
		start = c.StartDate.Format("2006-01-02")
	}
	return map[string]any{
		"ConsultantName": c.FullName(),
		"ClientName":     c.ClientName,
		"ClientAddress":  c.ClientAddress,
		"JobTitle":       c.Role,
		"Location":       c.Location,
		"Duration":       c.Duration,
		"StartDate":      start,
		"DayRate":        c.DayRate.String(),
		"Currency":       c.Currency,
	}
}
