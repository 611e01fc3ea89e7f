package contractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when no contractor row exists for the id.
	ErrNotFound = errors.New("contractor: not found")
	// ErrStatusConflict signals a guarded status flip that found the row
	// in a different status than expected.
	ErrStatusConflict = errors.New("contractor: status changed concurrently")
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const contractorColumns = `
id, first_name, surname, email, role, client_name, client_address, location, duration,
start_date, end_date, day_rate, monthly_rate, currency, leave_allowance, leave_used,
pending_reimbursements, pending_deductions, status, created_at, updated_at`

func scanContractor(row pgx.Row) (Contractor, error) {
	var c Contractor
	err := row.Scan(
		&c.ID, &c.FirstName, &c.Surname, &c.Email, &c.Role, &c.ClientName, &c.ClientAddress,
		&c.Location, &c.Duration, &c.StartDate, &c.EndDate, &c.DayRate, &c.MonthlyRate,
		&c.Currency, &c.LeaveAllowance, &c.LeaveUsed, &c.Reimbursements, &c.Deductions,
		&c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contractor{}, ErrNotFound
		}
		return Contractor{}, fmt.Errorf("contractor: scan: %w", err)
	}
	return c, nil
}

// GetForUpdate loads a contractor row with a row lock held for the
// remainder of the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Contractor, error) {
	row := tx.QueryRow(ctx, `SELECT `+contractorColumns+` FROM contractors WHERE id=$1 FOR UPDATE`, id)
	return scanContractor(row)
}

// SetStatus flips the contractor's status only if the row still holds
// the expected current status.
func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status) error {
	tag, err := tx.Exec(ctx, `
UPDATE contractors
SET status=$1, updated_at=now()
WHERE id=$2 AND status=$3
`, to, id, from)
	if err != nil {
		return fmt.Errorf("contractor: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// AppendDocument adds a reference to the contractor's JSONB document
// list inside the caller's transaction.
func (r *Repository) AppendDocument(ctx context.Context, tx pgx.Tx, id string, doc DocumentRef) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("contractor: marshal document ref: %w", err)
	}
	tag, err := tx.Exec(ctx, `
UPDATE contractors
SET documents = COALESCE(documents, '[]'::jsonb) || $1::jsonb,
    updated_at = now()
WHERE id=$2
`, body, id)
	if err != nil {
		return fmt.Errorf("contractor: append document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
