package review

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgGate struct {
	pool *pgxpool.Pool
}

func NewPgGate(pool *pgxpool.Pool) *PgGate {
	return &PgGate{pool: pool}
}

// HasPendingMandatoryReview reports whether the patient has a closed,
// reported encounter with no provider review attached yet.
func (g *PgGate) HasPendingMandatoryReview(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var n int
	err := g.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT e.id
			FROM encounters e
			LEFT JOIN reviews r
			  ON r.encounter_id = e.id
			 AND r.reviewer_role = 'patient'
			 AND r.reviewer_id = $1
			 AND r.reviewee_role = 'provider'
			WHERE e.patient_id = $1
			  AND e.report_submitted_at IS NOT NULL
			  AND e.interaction_closed_at IS NOT NULL
			  AND r.id IS NULL
			LIMIT 1
		) pending
	`, patientID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pending review: %w", err)
	}
	return n > 0, nil
}
