package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	reminderTitle = "Patient report pending"
	reminderBody  = "Please complete the patient analysis and recommendations within the mandatory reporting workflow."
)

type PgNotifier struct {
	pool *pgxpool.Pool
}

func NewPgNotifier(pool *pgxpool.Pool) *PgNotifier {
	return &PgNotifier{pool: pool}
}

func (n *PgNotifier) ReportDue(ctx context.Context, providerID, encounterID uuid.UUID) error {
	_, err := n.pool.Exec(ctx, `
		INSERT INTO notifications (id, recipient_id, encounter_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, uuid.New(), providerID, encounterID, reminderTitle, reminderBody)
	if err != nil {
		return fmt.Errorf("insert reminder notification: %w", err)
	}
	return nil
}
