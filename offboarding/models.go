// Package offboarding implements the contractor exit workflow: a
// status-guarded lifecycle from initiation through settlement,
// document generation, and approval, with at most one active
// offboarding per contractor.
package offboarding

import (
	"time"
)

// Reason is the business cause recorded at initiation. It never
// changes after insert.
type Reason string

const (
	ReasonContractEnd     Reason = "contract_end"
	ReasonResignation     Reason = "resignation"
	ReasonTermination     Reason = "termination"
	ReasonTransfer        Reason = "transfer"
	ReasonMutualAgreement Reason = "mutual_agreement"
)

// AllReasons enumerates every accepted offboarding reason.
func AllReasons() []Reason {
	return []Reason{
		ReasonContractEnd, ReasonResignation, ReasonTermination,
		ReasonTransfer, ReasonMutualAgreement,
	}
}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	for _, known := range AllReasons() {
		if r == known {
			return true
		}
	}
	return false
}

// Document types handed to the renderer for the exit pack.
const (
	DocTerminationLetter    = "termination_letter"
	DocExperienceLetter     = "experience_letter"
	DocClearanceCertificate = "clearance_certificate"
)

// DocumentURLs carries the uploaded exit-pack locations, written to
// the record together with the pending_approval flip.
type DocumentURLs struct {
	TerminationLetter    string
	ExperienceLetter     string
	ClearanceCertificate string
}

// Notification templates handed to the notifier.
const (
	TemplateInitiated = "offboarding_initiated"
	TemplateCompleted = "offboarding_completed"
)

// Record is the offboarding aggregate. One non-terminal record may
// exist per contractor at a time; the database enforces that with a
// partial unique index.
type Record struct {
	ID           string
	ContractorID string
	Reason       Reason
	Status       Status

	LastWorkingDay time.Time
	Notes          string
	InitiatedBy    string

	// Cached by CalculateSettlement; nil until first calculated.
	Settlement *Settlement

	SettlementApprovedAt *time.Time
	SettlementApprovedBy *string

	DocumentsGeneratedAt    *time.Time
	TerminationLetterURL    *string
	ExperienceLetterURL     *string
	ClearanceCertificateURL *string

	CompletedAt          *time.Time
	CompletedBy          *string
	CancelledAt          *time.Time
	CancelledBy          *string
	CancelReason         *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the record can no longer transition.
func (r Record) Terminal() bool {
	return r.Status.Terminal()
}
