package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/encounter-engine/internal/encounter"
)

type EstimateRequest struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type EstimateResponse struct {
	Kind            string `json:"kind"`
	DurationUnits   int    `json:"duration_units"`
	DurationMinutes int    `json:"duration_minutes"`
}

type SlotsResponse struct {
	ProviderID uuid.UUID `json:"provider_id"`
	Date       string    `json:"date"`
	Slots      []string  `json:"slots"`
}

type BookEncounterRequest struct {
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

type ReportRequest struct {
	Summary             string                      `json:"summary"`
	Narrative           string                      `json:"narrative"`
	Diagnoses           []encounter.DiagnosisEntry  `json:"diagnoses,omitempty"`
	Medications         []encounter.MedicationEntry `json:"medications,omitempty"`
	Prescriptions       *string                     `json:"prescriptions,omitempty"`
	Recommendations     *string                     `json:"recommendations,omitempty"`
	ClinicalNotes       *string                     `json:"clinical_notes,omitempty"`
	PatientInstructions *string                     `json:"patient_instructions,omitempty"`
}

type PresenceRequest struct {
	Event string `json:"event"` // join or leave
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolved_by"`
}

type NoShowRequest struct {
	Accused string `json:"accused"` // provider or patient
}

type EncounterResponse struct {
	ID             uuid.UUID `json:"id"`
	GlobalSequence int64     `json:"global_sequence"`
	PatientID      uuid.UUID `json:"patient_id"`
	ProviderID     uuid.UUID `json:"provider_id"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	Kind           string    `json:"kind"`
	DurationUnits  int       `json:"duration_units"`
	HourSequence   int       `json:"hour_sequence"`
	Reason         string    `json:"reason"`
	Status         string    `json:"status"`
	VideoRoomID    *string   `json:"video_room_id,omitempty"`

	Report            *encounter.Report `json:"report,omitempty"`
	ReportDueAt       *time.Time        `json:"report_due_at,omitempty"`
	ReportSubmittedAt *time.Time        `json:"report_submitted_at,omitempty"`
	ReportLockedAt    *time.Time        `json:"report_locked_at,omitempty"`

	InteractionClosedAt *time.Time `json:"interaction_closed_at,omitempty"`

	ProviderJoinedAt *time.Time `json:"provider_joined_at,omitempty"`
	PatientJoinedAt  *time.Time `json:"patient_joined_at,omitempty"`
	OverlapSeconds   int        `json:"overlap_seconds"`

	DisputeRaisedAt   *time.Time `json:"dispute_raised_at,omitempty"`
	DisputeRaisedBy   *string    `json:"dispute_raised_by,omitempty"`
	DisputeResolvedAt *time.Time `json:"dispute_resolved_at,omitempty"`
	DisputeResolution *string    `json:"dispute_resolution,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AuditResponse struct {
	EncounterID uuid.UUID                 `json:"encounter_id"`
	Events      []encounter.PresenceEvent `json:"events"`
}

// SlotConflictResponse is the 409 body for a lost booking race. It
// carries a refreshed slot list so the client can retry without a
// second round trip.
type SlotConflictResponse struct {
	Error          string   `json:"error"`
	Details        string   `json:"details"`
	AvailableSlots []string `json:"available_slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toEncounterResponse(e *encounter.Encounter) EncounterResponse {
	resp := EncounterResponse{
		ID:             e.ID,
		GlobalSequence: e.GlobalSequence,
		PatientID:      e.PatientID,
		ProviderID:     e.ProviderID,
		Date:           e.Date,
		StartTime:      e.StartTime,
		Kind:           string(e.Kind),
		DurationUnits:  e.DurationUnits,
		HourSequence:   e.HourSequence,
		Reason:         e.Reason,
		Status:         string(e.Status),
		VideoRoomID:    e.VideoRoomID,

		Report:            e.Report,
		ReportDueAt:       e.ReportDueAt,
		ReportSubmittedAt: e.ReportSubmittedAt,
		ReportLockedAt:    e.ReportLockedAt,

		InteractionClosedAt: e.InteractionClosedAt,

		ProviderJoinedAt: e.ProviderJoinedAt,
		PatientJoinedAt:  e.PatientJoinedAt,
		OverlapSeconds:   e.OverlapSeconds,

		DisputeRaisedAt:   e.DisputeRaisedAt,
		DisputeResolvedAt: e.DisputeResolvedAt,

		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if e.DisputeRaisedBy != nil {
		by := string(*e.DisputeRaisedBy)
		resp.DisputeRaisedBy = &by
	}
	if e.DisputeResolution != nil {
		res := string(*e.DisputeResolution)
		resp.DisputeResolution = &res
	}
	return resp
}

func toEncounterResponses(list []encounter.Encounter) []EncounterResponse {
	out := make([]EncounterResponse, 0, len(list))
	for i := range list {
		out = append(out, toEncounterResponse(&list[i]))
	}
	return out
}
