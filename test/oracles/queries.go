// Package oracles defines the SQL invariant checks the stress run
// evaluates continuously. Every query returns rows only when an
// invariant is broken.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_active_offboarding",
			SQL: `SELECT contractor_id, COUNT(*) FROM offboarding_records
                  WHERE status NOT IN ('completed','cancelled')
                  GROUP BY contractor_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_contractor_signature_all_or_none",
			SQL: `SELECT id FROM contracts
                  WHERE (contractor_signature_type IS NULL) <> (contractor_signature_data IS NULL)
                     OR (contractor_signature_type IS NULL) <> (contractor_signed_date IS NULL)`,
		},
		{
			Name: "O3_counterparty_signature_all_or_none",
			SQL: `SELECT id FROM contracts
                  WHERE (counterparty_signature_type IS NULL) <> (counterparty_signature_data IS NULL)
                     OR (counterparty_signature_type IS NULL) <> (counterparty_signed_date IS NULL)
                     OR (counterparty_signature_type IS NULL) <> (counterparty_signer_id IS NULL)`,
		},
		{
			Name: "O4_signed_contracts_carry_artifacts",
			SQL: `SELECT id, status FROM contracts
                  WHERE status IN ('signed','validated','activated')
                    AND (counterparty_signature_type IS NULL
                         OR contractor_signature_type IS NULL
                         OR signed_document_url IS NULL)`,
		},
		{
			Name: "O5_settlement_total_consistent",
			SQL: `SELECT id FROM offboarding_records
                  WHERE settlement IS NOT NULL
                    AND abs( (settlement->>'total')::numeric
                           - round( (settlement->>'pro_rata_salary')::numeric
                                  + (settlement->>'leave_payout')::numeric
                                  + (settlement->>'gratuity')::numeric
                                  + (settlement->>'reimbursements')::numeric
                                  - (settlement->>'deductions')::numeric, 2) ) > 0.005`,
		},
		{
			Name: "O6_terminal_records_complete",
			SQL: `SELECT id, status FROM offboarding_records
                  WHERE (status='cancelled' AND cancelled_at IS NULL)
                     OR (status='completed' AND completed_at IS NULL)`,
		},
		{
			Name: "O7_declined_contracts_dated",
			SQL: `SELECT id FROM contracts
                  WHERE status='declined' AND declined_at IS NULL`,
		},
		{
			Name: "O8_activated_contracts_credentialed",
			SQL: `SELECT id FROM contracts
                  WHERE status='activated' AND temporary_credential IS NULL`,
		},
		{
			Name: "O9_generated_documents_linked",
			SQL: `SELECT id FROM offboarding_records
                  WHERE documents_generated_at IS NOT NULL
                    AND (termination_letter_url IS NULL
                         OR experience_letter_url IS NULL
                         OR clearance_certificate_url IS NULL)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
