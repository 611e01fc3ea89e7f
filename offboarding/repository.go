package offboarding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository holds the SQL for the offboarding_records table. A
// partial unique index on contractor_id over non-terminal statuses
// backs the single-active-offboarding invariant; Insert maps its
// violation to ErrActiveOffboarding.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const recordColumns = `
id, contractor_id, reason, status, last_working_day, notes, initiated_by, settlement,
settlement_approved_at, settlement_approved_by, documents_generated_at,
termination_letter_url, experience_letter_url, clearance_certificate_url,
completed_at, completed_by, cancelled_at, cancelled_by, cancel_reason, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r          Record
		settlement []byte
	)
	err := row.Scan(
		&r.ID, &r.ContractorID, &r.Reason, &r.Status, &r.LastWorkingDay, &r.Notes, &r.InitiatedBy,
		&settlement, &r.SettlementApprovedAt, &r.SettlementApprovedBy, &r.DocumentsGeneratedAt,
		&r.TerminationLetterURL, &r.ExperienceLetterURL, &r.ClearanceCertificateURL,
		&r.CompletedAt, &r.CompletedBy, &r.CancelledAt, &r.CancelledBy, &r.CancelReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("offboarding: scan: %w", err)
	}
	if len(settlement) > 0 {
		var s Settlement
		if err := json.Unmarshal(settlement, &s); err != nil {
			return Record{}, fmt.Errorf("offboarding: decode settlement: %w", err)
		}
		r.Settlement = &s
	}
	return r, nil
}

// Insert creates an offboarding record. A concurrent non-terminal
// record for the same contractor trips the partial unique index and
// surfaces as ErrActiveOffboarding.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	err := tx.QueryRow(ctx, `
INSERT INTO offboarding_records (id, contractor_id, reason, status, last_working_day, notes, initiated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at
`, rec.ID, rec.ContractorID, rec.Reason, rec.Status, rec.LastWorkingDay, rec.Notes, rec.InitiatedBy).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrActiveOffboarding
		}
		return Record{}, fmt.Errorf("offboarding: insert: %w", err)
	}
	return rec, nil
}

// GetForUpdate loads a record by id with a row lock.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	return scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM offboarding_records WHERE id=$1 FOR UPDATE`, id))
}

// GetActiveForContractor returns the contractor's non-terminal record,
// locked, or ErrNotFound. The partial unique index guarantees at most
// one exists.
func (r *Repository) GetActiveForContractor(ctx context.Context, tx pgx.Tx, contractorID string) (Record, error) {
	return scanRecord(tx.QueryRow(ctx, `
SELECT `+recordColumns+`
FROM offboarding_records
WHERE contractor_id=$1 AND status NOT IN ($2, $3)
FOR UPDATE
`, contractorID, StatusCompleted, StatusCancelled))
}

// SetStatus performs a bare guarded status flip.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	return r.guarded(ctx, tx, `
UPDATE offboarding_records
SET status=$1, updated_at=now()
WHERE id=$2 AND status=$3
`, to, id, from)
}

// SetSettlement caches a calculated settlement onto the record. Not a
// state transition; guarded only against terminal records.
func (r *Repository) SetSettlement(ctx context.Context, tx pgx.Tx, id string, s Settlement) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("offboarding: encode settlement: %w", err)
	}
	return r.guarded(ctx, tx, `
UPDATE offboarding_records
SET settlement=$1, updated_at=now()
WHERE id=$2 AND status NOT IN ($3, $4)
`, body, id, StatusCompleted, StatusCancelled)
}

// ApproveSettlement writes the approved (possibly adjusted) settlement
// and flips to pending_documents, guarded on the status the transition
// was validated against.
func (r *Repository) ApproveSettlement(ctx context.Context, tx pgx.Tx, id string, from Status, s Settlement, approver string, at time.Time) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("offboarding: encode settlement: %w", err)
	}
	return r.guarded(ctx, tx, `
UPDATE offboarding_records
SET status=$1, settlement=$2, settlement_approved_at=$3, settlement_approved_by=$4, updated_at=now()
WHERE id=$5 AND status=$6
`, StatusPendingDocuments, body, at, approver, id, from)
}

// SetDocumentsGenerated writes the uploaded exit-pack URLs and flips
// pending_documents -> pending_approval in one statement.
func (r *Repository) SetDocumentsGenerated(ctx context.Context, tx pgx.Tx, id string, urls DocumentURLs, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE offboarding_records
SET status=$1, documents_generated_at=$2,
    termination_letter_url=$3, experience_letter_url=$4, clearance_certificate_url=$5,
    updated_at=now()
WHERE id=$6 AND status=$7
`, StatusPendingApproval, at, urls.TerminationLetter, urls.ExperienceLetter, urls.ClearanceCertificate, id, StatusPendingDocuments)
}

// SetCompleted flips pending_approval -> completed.
func (r *Repository) SetCompleted(ctx context.Context, tx pgx.Tx, id, completedBy string, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE offboarding_records
SET status=$1, completed_at=$2, completed_by=$3, updated_at=now()
WHERE id=$4 AND status=$5
`, StatusCompleted, at, completedBy, id, StatusPendingApproval)
}

// SetCancelled records the cancellation, guarded on the status the
// transition was validated against.
func (r *Repository) SetCancelled(ctx context.Context, tx pgx.Tx, id string, from Status, cancelledBy, reason string, at time.Time) error {
	return r.guarded(ctx, tx, `
UPDATE offboarding_records
SET status=$1, cancelled_at=$2, cancelled_by=$3, cancel_reason=$4, updated_at=now()
WHERE id=$5 AND status=$6
`, StatusCancelled, at, cancelledBy, reason, id, from)
}

// ListByStatus returns records in the given status, newest first.
func (r *Repository) ListByStatus(ctx context.Context, tx pgx.Tx, status Status) ([]Record, error) {
	rows, err := tx.Query(ctx, `SELECT `+recordColumns+` FROM offboarding_records WHERE status=$1 ORDER BY updated_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("offboarding: list by status: %w", err)
	}
	return collectRecords(rows)
}

// ListForContractor returns the contractor's offboarding history,
// newest first.
func (r *Repository) ListForContractor(ctx context.Context, tx pgx.Tx, contractorID string) ([]Record, error) {
	rows, err := tx.Query(ctx, `SELECT `+recordColumns+` FROM offboarding_records WHERE contractor_id=$1 ORDER BY created_at DESC`, contractorID)
	if err != nil {
		return nil, fmt.Errorf("offboarding: list for contractor: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("offboarding: iterate: %w", err)
	}
	return records, nil
}

func (r *Repository) guarded(ctx context.Context, tx pgx.Tx, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("offboarding: guarded update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
