// Package actors holds the concurrent workload for the stress harness.
// Each actor hammers one workflow step with raw SQL, using the same
// guarded-update shape as the repositories, so the database-level
// invariants are exercised without going through the services.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContractSigner races to apply the contractor signature: all four
// fields and the status flip in one guarded statement.
func ContractSigner(ctx context.Context, pool *pgxpool.Pool, contractID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status FROM contracts WHERE id=$1 FOR UPDATE`, contractID).Scan(&status)
		if err == nil && (status == "sent" || status == "reviewed") {
			_, _ = tx.Exec(ctx, `
UPDATE contracts
SET status='pending_counterparty_signature',
    contractor_signature_type='typed',
    contractor_signature_data='Stress Signer',
    contractor_signed_date=now(),
    contractor_notes='',
    updated_at=now()
WHERE id=$1 AND status=$2`, contractID, status)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// CounterSigner races the signer: it flips pending contracts to signed
// with the full counterparty block and a document URL, then resets the
// row back to sent so the battle continues for the whole run.
func CounterSigner(ctx context.Context, pool *pgxpool.Pool, contractID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var status string
		err = tx.QueryRow(ctx, `SELECT status FROM contracts WHERE id=$1 FOR UPDATE`, contractID).Scan(&status)
		if err == nil && status == "pending_counterparty_signature" {
			_, _ = tx.Exec(ctx, `
UPDATE contracts
SET status='signed',
    counterparty_signature_type='drawn',
    counterparty_signature_data='stress-sig',
    counterparty_signed_date=now(),
    counterparty_signer_id='stress-admin',
    counterparty_signer_name='Stress Admin',
    signed_document_url='file:///stress/signed.pdf',
    updated_at=now()
WHERE id=$1 AND status='pending_counterparty_signature'`, contractID)
			_ = tx.Commit(ctx)
		} else if err == nil && status == "signed" {
			// recycle for the next round
			_, _ = tx.Exec(ctx, `
UPDATE contracts
SET status='sent',
    contractor_signature_type=NULL,
    contractor_signature_data=NULL,
    contractor_signed_date=NULL,
    contractor_notes=NULL,
    counterparty_signature_type=NULL,
    counterparty_signature_data=NULL,
    counterparty_signed_date=NULL,
    counterparty_signer_id=NULL,
    counterparty_signer_name=NULL,
    signed_document_url=NULL,
    updated_at=now()
WHERE id=$1 AND status='signed'`, contractID)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// OffboardingInitiator hammers the single-active-offboarding invariant:
// concurrent inserts for the same contractor must collapse to one
// winner on the partial unique index.
func OffboardingInitiator(ctx context.Context, pool *pgxpool.Pool, contractorID string, stop <-chan struct{}) error {
	reasons := []string{"contract_end", "resignation", "termination"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
INSERT INTO offboarding_records (id, contractor_id, reason, status, last_working_day)
VALUES (gen_random_uuid(), $1, $2, 'pending_settlement', CURRENT_DATE + 14)`,
			contractorID, reasons[rand.Intn(len(reasons))])
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// expected under contention
			} else if ctx.Err() == nil {
				return fmt.Errorf("initiator insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// OffboardingCanceller cancels whatever live offboarding it finds,
// reopening the contractor for the initiators.
func OffboardingCanceller(ctx context.Context, pool *pgxpool.Pool, contractorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var id, status string
		err = tx.QueryRow(ctx, `
SELECT id, status FROM offboarding_records
WHERE contractor_id=$1 AND status NOT IN ('completed','cancelled')
FOR UPDATE`, contractorID).Scan(&id, &status)
		if err == nil {
			_, _ = tx.Exec(ctx, `
UPDATE offboarding_records
SET status='cancelled', cancelled_at=now(), cancelled_by='stress-admin',
    cancel_reason='stress cycle', updated_at=now()
WHERE id=$1 AND status=$2`, id, status)
			_ = tx.Commit(ctx)
		} else {
			_ = tx.Rollback(ctx)
			if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil {
				return fmt.Errorf("canceller select: %w", err)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(60)) * time.Millisecond)
	}
}

// SettlementWriter caches a settlement breakdown whose total always
// equals its parts, mimicking the calculator's output shape.
func SettlementWriter(ctx context.Context, pool *pgxpool.Pool, contractorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		proRata := 100 + rand.Intn(5000)
		leave := rand.Intn(3000) - 500
		gratuity := rand.Intn(20000)
		total := proRata + leave + gratuity
		_, _ = pool.Exec(ctx, `
UPDATE offboarding_records
SET settlement = jsonb_build_object(
        'pro_rata_salary', $2::text,
        'leave_payout',    $3::text,
        'gratuity',        $4::text,
        'reimbursements',  '0',
        'deductions',      '0',
        'total',           $5::text),
    updated_at = now()
WHERE contractor_id=$1 AND status NOT IN ('completed','cancelled')`,
			contractorID, fmt.Sprint(proRata), fmt.Sprint(leave), fmt.Sprint(gratuity), fmt.Sprint(total))
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// TokenReissuer rotates the draft contract's signing token the way
// regeneration does, keeping the unique index under write pressure.
func TokenReissuer(ctx context.Context, pool *pgxpool.Pool, contractID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
UPDATE contracts
SET signing_token = 'stress-' || md5(random()::text || clock_timestamp()::text),
    token_expiry = now() + interval '72 hours',
    updated_at = now()
WHERE id=$1`, contractID)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("token reissue: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(80)) * time.Millisecond)
	}
}
