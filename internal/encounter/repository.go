package encounter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEncounterNotFound = errors.New("encounter not found")
	ErrSlotUnavailable   = errors.New("slot no longer available")
)

// CreateParams carries everything needed to commit a booking. Duration
// units arrive already re-derived by the triage estimator.
type CreateParams struct {
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	Date          string // YYYY-MM-DD
	StartTime     string // HH:MM
	Kind          Kind
	Reason        string
	DurationUnits int
}

// Repository contains all storage interactions needed by the service.
//
// CreateEncounter must be atomic: the capacity re-check, the hour and
// global sequence assignment, and the insert commit together or not at
// all. Status-changing methods are compare-and-swap on the current
// status; a guard miss surfaces as ErrEncounterNotFound.
type Repository interface {
	CreateEncounter(ctx context.Context, p CreateParams, now time.Time) (*Encounter, error)
	GetEncounterByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Encounter, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Encounter, error)
	ListPatientHistory(ctx context.Context, patientID uuid.UUID) ([]Encounter, error)

	// Capacity ledger: committed units per hour-of-day over active
	// (pending or confirmed) encounters. Recomputed on every read.
	CommittedUnitsByHour(ctx context.Context, providerID uuid.UUID, date string) (map[int]int, error)

	// UpdateStatus applies from->to only if the row still holds the
	// expected prior status, provisioning the video room on confirm of a
	// remote encounter and stamping report_due_at on first completion.
	UpdateStatus(ctx context.Context, id uuid.UUID, providerID uuid.UUID, from, to Status, now time.Time) (*Encounter, error)

	// SubmitReport refreshes report content, stamps submitted-at on the
	// first submission, closes the interaction and forces completed
	// status. The write is guarded: a locked report, a write past the
	// addendum window, or a status outside confirmed/completed changes
	// nothing and reports ErrEncounterNotFound.
	SubmitReport(ctx context.Context, id uuid.UUID, providerID uuid.UUID, report Report, now time.Time) (*Encounter, error)

	RecordJoin(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, now time.Time) (*Encounter, error)
	RecordLeave(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, now time.Time) (*Encounter, error)

	RaiseDispute(ctx context.Context, id uuid.UUID, raisedBy Party, reason string, now time.Time) (*Encounter, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string, now time.Time) (*Encounter, error)
	MarkNoShow(ctx context.Context, id uuid.UUID, party Party, now time.Time) (*Encounter, error)

	// Sweep support
	LockExpiredReports(ctx context.Context, now time.Time) (int, error)
	FindReportsPastDue(ctx context.Context, now time.Time) ([]Encounter, error)
	MarkReminderSent(ctx context.Context, id uuid.UUID, now time.Time) error
}
