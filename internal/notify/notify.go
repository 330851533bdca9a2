// Package notify dispatches fire-and-forget notifications. Delivery is
// an external concern; the engine only records that a reminder is owed.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Notifier interface {
	ReportDue(ctx context.Context, providerID, encounterID uuid.UUID) error
}

// LogNotifier is used where no notification store is wired.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) ReportDue(ctx context.Context, providerID, encounterID uuid.UUID) error {
	n.Logger.Info().
		Str("provider_id", providerID.String()).
		Str("encounter_id", encounterID.String()).
		Msg("report due reminder")
	return nil
}
