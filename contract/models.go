// Package contract implements the employment-contract signing state
// machine. Every operation runs inside one transaction; atomic-group
// transitions keep external render/upload calls inside the boundary so
// a collaborator failure rolls the whole step back.
package contract

import (
	"time"

	"contractorflow/token"
)

// Document types handed to the renderer.
const (
	DocContractBody   = "contract_body"
	DocContractPDF    = "contract_pdf"
	DocSignedContract = "contract_signed"
)

// Notification templates handed to the notifier.
const (
	TemplateInvitation = "contract_invitation"
	TemplateSignedCopy = "contract_signed_copy"
	TemplateActivation = "account_activation"
)

// Signature is the contractor-side signature. Its fields are only ever
// written together; a contract either has the full signature or none.
type Signature struct {
	Type  string
	Data  string
	Date  time.Time
	Notes string
}

// CounterSignature is the company-side signature applied by an
// authorized signer.
type CounterSignature struct {
	Type       string
	Data       string
	Date       time.Time
	SignerID   string
	SignerName string
}

// Template is a versioned contract body the renderer fills with a
// contractor snapshot.
type Template struct {
	ID        string
	Name      string
	Body      string
	Version   string
	IsActive  bool
	CreatedAt time.Time
}

// Contract is the signing aggregate. It is created by Generate and
// mutated only through state-machine transitions; rows are never
// deleted during the normal flow.
type Contract struct {
	ID           string
	ContractorID string
	TemplateID   string
	Status       Status
	Content      string
	Token        token.Token

	ContractorSignature *Signature
	CounterSignature    *CounterSignature

	SentAt      *time.Time
	SentBy      *string
	ReviewedAt  *time.Time
	ValidatedAt *time.Time
	ValidatedBy *string
	ActivatedAt *time.Time
	ActivatedBy *string

	// bcrypt hash of the one-time credential minted at activation.
	TemporaryCredential *string

	SignedDocumentURL *string
	DeclinedAt        *time.Time
	DeclineReason     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the contract can no longer transition.
func (c Contract) Terminal() bool {
	return c.Status.Terminal()
}
