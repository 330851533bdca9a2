// Package review is the engine's view of the external review system.
// The only question the engine asks is whether a patient still owes a
// mandatory provider review for a previously closed encounter, which
// blocks any new booking until answered.
package review

import (
	"context"

	"github.com/google/uuid"
)

type Gate interface {
	HasPendingMandatoryReview(ctx context.Context, patientID uuid.UUID) (bool, error)
}

// AllowAll is the gate used where no review store is wired (tests, the
// offline simulator).
type AllowAll struct{}

func (AllowAll) HasPendingMandatoryReview(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return false, nil
}
