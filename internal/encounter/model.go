package encounter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Clinical load constants. One capacity unit is 10 minutes, so a provider
// hour holds 6 units.
const (
	UnitsPerHour      = 6
	UnitMinutes       = 10
	AddendumWindow    = 2 * time.Hour  // edits allowed this long after report submission
	ReportDueAfter    = 24 * time.Hour // report deadline relative to the scheduled time
	MinOverlapSeconds = 180            // minimum dual presence for a valid remote encounter
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusNoShow    Status = "no_show"
)

// Active reports whether the status still holds capacity in its hour.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Kind string

const (
	KindInPerson Kind = "in_person"
	KindRemote   Kind = "remote"
)

func ValidKind(k Kind) bool {
	return k == KindInPerson || k == KindRemote
}

type Party string

const (
	PartyProvider Party = "provider"
	PartyPatient  Party = "patient"
)

func ValidParty(p Party) bool {
	return p == PartyProvider || p == PartyPatient
}

type Resolution string

const (
	ResolutionProviderFavor Resolution = "provider_favor"
	ResolutionPatientFavor  Resolution = "patient_favor"
	ResolutionMutual        Resolution = "mutual"
)

func ValidResolution(r Resolution) bool {
	switch r {
	case ResolutionProviderFavor, ResolutionPatientFavor, ResolutionMutual:
		return true
	}
	return false
}

// FinalStatus maps a dispute resolution to the status the encounter
// settles into. Only patient_favor voids the encounter.
func (r Resolution) FinalStatus() Status {
	if r == ResolutionPatientFavor {
		return StatusCancelled
	}
	return StatusCompleted
}

// PresenceEvent is one append-only entry in the encounter audit log.
// Entries are never mutated or deleted.
type PresenceEvent struct {
	Event   string    `json:"event"` // join, leave, dispute_raised, dispute_resolved, no_show
	Party   Party     `json:"party,omitempty"`
	ActorID string    `json:"actor_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventDisputeRaised   = "dispute_raised"
	EventDisputeResolved = "dispute_resolved"
	EventNoShow          = "no_show"
)

type DiagnosisEntry struct {
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"` // icd10 or custom
}

type MedicationEntry struct {
	DrugName  string `json:"drug_name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// Report is the clinical record a provider submits for an encounter.
// All fields live inside the encounter; nothing references them from
// outside.
type Report struct {
	Summary             string            `json:"summary"`
	Narrative           string            `json:"narrative"`
	Diagnoses           []DiagnosisEntry  `json:"diagnoses,omitempty"`
	Medications         []MedicationEntry `json:"medications,omitempty"`
	Prescriptions       *string           `json:"prescriptions,omitempty"`
	Recommendations     *string           `json:"recommendations,omitempty"`
	ClinicalNotes       *string           `json:"clinical_notes,omitempty"`
	PatientInstructions *string           `json:"patient_instructions,omitempty"`
}

type Encounter struct {
	ID             uuid.UUID
	GlobalSequence int64
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	Date           string // YYYY-MM-DD, provider-local wall clock
	StartTime      string // HH:MM
	Kind           Kind
	DurationUnits  int
	HourSequence   int
	Reason         string
	Status         Status
	VideoRoomID    *string

	Report            *Report
	ReportDueAt       *time.Time
	ReportSubmittedAt *time.Time
	ReportLockedAt    *time.Time
	ReminderSentAt    *time.Time

	InteractionClosedAt *time.Time

	ProviderJoinedAt *time.Time
	PatientJoinedAt  *time.Time
	OverlapSeconds   int
	AuditLog         []PresenceEvent

	DisputeRaisedAt   *time.Time
	DisputeRaisedBy   *Party
	DisputeResolvedAt *time.Time
	DisputeResolution *Resolution

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hour returns the hour-of-day bucket the encounter occupies.
func (e *Encounter) Hour() int {
	if len(e.StartTime) < 2 {
		return 0
	}
	h, err := strconv.Atoi(e.StartTime[:2])
	if err != nil || h < 0 || h > 23 {
		return 0
	}
	return h
}

// ScheduledAt interprets date and start time as a single wall-clock
// instant. No timezone conversion happens anywhere in the engine.
func (e *Encounter) ScheduledAt() time.Time {
	t, err := time.Parse("2006-01-02 15:04", fmt.Sprintf("%s %s", e.Date, e.StartTime))
	if err != nil {
		return time.Time{}
	}
	return t
}
