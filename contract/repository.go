package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"contractorflow/token"
)

// Repository holds the SQL for the contracts and contract_templates
// tables. All methods run inside the caller's transaction; transition
// writes are guarded with the expected current status so a concurrent
// loser surfaces as ErrConflict instead of silently overwriting.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const contractColumns = `
id, contractor_id, template_id, status, content, signing_token, token_expiry,
contractor_signature_type, contractor_signature_data, contractor_signed_date, contractor_notes,
counterparty_signature_type, counterparty_signature_data, counterparty_signed_date,
counterparty_signer_id, counterparty_signer_name,
sent_at, sent_by, reviewed_at, validated_at, validated_by, activated_at, activated_by,
temporary_credential, signed_document_url, declined_at, decline_reason, created_at, updated_at`

func scanContract(row pgx.Row) (Contract, error) {
	var (
		c         Contract
		tokValue  string
		tokExpiry time.Time
		sigType   *string
		sigData   *string
		sigDate   *time.Time
		sigNotes  *string
		cSigType  *string
		cSigData  *string
		cSigDate  *time.Time
		cSignerID *string
		cSigner   *string
	)
	err := row.Scan(
		&c.ID, &c.ContractorID, &c.TemplateID, &c.Status, &c.Content, &tokValue, &tokExpiry,
		&sigType, &sigData, &sigDate, &sigNotes,
		&cSigType, &cSigData, &cSigDate, &cSignerID, &cSigner,
		&c.SentAt, &c.SentBy, &c.ReviewedAt, &c.ValidatedAt, &c.ValidatedBy,
		&c.ActivatedAt, &c.ActivatedBy, &c.TemporaryCredential, &c.SignedDocumentURL,
		&c.DeclinedAt, &c.DeclineReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contract{}, ErrNotFound
		}
		return Contract{}, fmt.Errorf("contract: scan: %w", err)
	}

	c.Token = token.FromExisting(tokValue, tokExpiry, token.TypeContract)
	if sigType != nil && sigData != nil && sigDate != nil {
		notes := ""
		if sigNotes != nil {
			notes = *sigNotes
		}
		c.ContractorSignature = &Signature{Type: *sigType, Data: *sigData, Date: *sigDate, Notes: notes}
	}
	if cSigType != nil && cSigData != nil && cSigDate != nil && cSignerID != nil {
		name := ""
		if cSigner != nil {
			name = *cSigner
		}
		c.CounterSignature = &CounterSignature{
			Type: *cSigType, Data: *cSigData, Date: *cSigDate,
			SignerID: *cSignerID, SignerName: name,
		}
	}
	return c, nil
}

// GetTemplate loads an active contract template.
func (r *Repository) GetTemplate(ctx context.Context, tx pgx.Tx, id string) (Template, error) {
	var t Template
	err := tx.QueryRow(ctx, `
SELECT id, name, body, version, is_active, created_at
FROM contract_templates
WHERE id=$1 AND is_active
`, id).Scan(&t.ID, &t.Name, &t.Body, &t.Version, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, fmt.Errorf("contract: load template: %w", err)
	}
	return t, nil
}

// Insert creates a draft contract.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, c Contract) (Contract, error) {
	err := tx.QueryRow(ctx, `
INSERT INTO contracts (id, contractor_id, template_id, status, content, signing_token, token_expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at
`, c.ID, c.ContractorID, c.TemplateID, c.Status, c.Content, c.Token.Value, c.Token.Expiry).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Contract{}, fmt.Errorf("contract: insert: %w", err)
	}
	return c, nil
}

// GetForUpdate loads a contract by id with a row lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contract, error) {
	return scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id=$1 FOR UPDATE`, id))
}

// GetByTokenForUpdate loads a contract by its signing token with a row
// lock. An unknown token is ErrNotFound; the service maps that to the
// token-invalid error so callers cannot probe for contract ids.
func (r *Repository) GetByTokenForUpdate(ctx context.Context, tx pgx.Tx, tokenValue string) (Contract, error) {
	return scanContract(tx.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE signing_token=$1 FOR UPDATE`, tokenValue))
}

// FindOpenForContractor returns the contractor's latest non-terminal
// contract, locked, or ErrNotFound.
func (r *Repository) FindOpenForContractor(ctx context.Context, tx pgx.Tx, contractorID string) (Contract, error) {
	return scanContract(tx.QueryRow(ctx, `
SELECT `+contractColumns+`
FROM contracts
WHERE contractor_id=$1 AND status NOT IN ($2, $3)
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE
`, contractorID, StatusActivated, StatusDeclined))
}

// RefreshDraft re-renders a draft in place: new content, new token.
func (r *Repository) RefreshDraft(ctx context.Context, tx pgx.Tx, id, content string, tok token.Token) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET content=$1, signing_token=$2, token_expiry=$3, updated_at=now()
WHERE id=$4 AND status=$5
`, content, tok.Value, tok.Expiry, id, StatusDraft)
}

// SetSent flips draft -> sent.
func (r *Repository) SetSent(ctx context.Context, tx pgx.Tx, id, sentBy string, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1, sent_at=$2, sent_by=$3, updated_at=now()
WHERE id=$4 AND status=$5
`, StatusSent, at, sentBy, id, StatusDraft)
}

// SetReviewed flips sent -> reviewed on the first token-authenticated
// read.
func (r *Repository) SetReviewed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1, reviewed_at=$2, updated_at=now()
WHERE id=$3 AND status=$4
`, StatusReviewed, at, id, StatusSent)
}

// SetContractorSignature writes all contractor signature fields and
// the status flip as one statement, guarded on the status the
// transition was validated against.
func (r *Repository) SetContractorSignature(ctx context.Context, tx pgx.Tx, id string, from Status, sig Signature) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1,
    contractor_signature_type=$2,
    contractor_signature_data=$3,
    contractor_signed_date=$4,
    contractor_notes=$5,
    updated_at=now()
WHERE id=$6 AND status=$7
`, StatusPendingCounterparty, sig.Type, sig.Data, sig.Date, sig.Notes, id, from)
}

// SetCounterSignature writes the counterparty signature, the signed
// document URL, and the pending_counterparty_signature -> signed flip.
func (r *Repository) SetCounterSignature(ctx context.Context, tx pgx.Tx, id string, sig CounterSignature, documentURL string) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1,
    counterparty_signature_type=$2,
    counterparty_signature_data=$3,
    counterparty_signed_date=$4,
    counterparty_signer_id=$5,
    counterparty_signer_name=$6,
    signed_document_url=$7,
    updated_at=now()
WHERE id=$8 AND status=$9
`, StatusSigned, sig.Type, sig.Data, sig.Date, sig.SignerID, sig.SignerName, documentURL, id, StatusPendingCounterparty)
}

// SetValidated flips signed -> validated.
func (r *Repository) SetValidated(ctx context.Context, tx pgx.Tx, id, validatedBy string, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1, validated_at=$2, validated_by=$3, updated_at=now()
WHERE id=$4 AND status=$5
`, StatusValidated, at, validatedBy, id, StatusSigned)
}

// SetActivated flips validated -> activated and stores the hashed
// one-time credential.
func (r *Repository) SetActivated(ctx context.Context, tx pgx.Tx, id, activatedBy string, at time.Time, credentialHash string) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1, activated_at=$2, activated_by=$3, temporary_credential=$4, updated_at=now()
WHERE id=$5 AND status=$6
`, StatusActivated, at, activatedBy, credentialHash, id, StatusValidated)
}

// SetDeclined records the terminal decline, guarded on the status the
// transition was validated against.
func (r *Repository) SetDeclined(ctx context.Context, tx pgx.Tx, id string, from Status, reason string, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE contracts
SET status=$1, declined_at=$2, decline_reason=$3, updated_at=now()
WHERE id=$4 AND status=$5
`, StatusDeclined, at, reason, id, from)
}

// ListByStatus returns contracts in the given status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, tx pgx.Tx, status Status) ([]Contract, error) {
	rows, err := tx.Query(ctx, `SELECT `+contractColumns+` FROM contracts WHERE status=$1 ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("contract: list by status: %w", err)
	}
	return collectContracts(rows)
}

// ListForContractor returns every contract for the contractor, newest
// first.
func (r *Repository) ListForContractor(ctx context.Context, tx pgx.Tx, contractorID string) ([]Contract, error) {
	rows, err := tx.Query(ctx, `SELECT `+contractColumns+` FROM contracts WHERE contractor_id=$1 ORDER BY created_at DESC`, contractorID)
	if err != nil {
		return nil, fmt.Errorf("contract: list for contractor: %w", err)
	}
	return collectContracts(rows)
}

func collectContracts(rows pgx.Rows) ([]Contract, error) {
	defer rows.Close()
	contracts := []Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return contracts, nil
}

func (r *Repository) guarded(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("contract: guarded update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
