package encounter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded Repository used by unit tests and
// the offline simulator. It mirrors the Postgres repository semantics,
// including the capacity re-check inside the create critical section.
type MemoryRepository struct {
	mu         sync.Mutex
	encounters map[uuid.UUID]*Encounter
	globalSeq  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		encounters: make(map[uuid.UUID]*Encounter),
	}
}

func cloneEncounter(e *Encounter) *Encounter {
	cp := *e
	if e.Report != nil {
		rep := *e.Report
		rep.Diagnoses = append([]DiagnosisEntry(nil), e.Report.Diagnoses...)
		rep.Medications = append([]MedicationEntry(nil), e.Report.Medications...)
		cp.Report = &rep
	}
	cp.AuditLog = append([]PresenceEvent(nil), e.AuditLog...)
	return &cp
}

func (r *MemoryRepository) CreateEncounter(ctx context.Context, p CreateParams, now time.Time) (*Encounter, error) {
	hour, err := hourOf(p.StartTime)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	used := 0
	maxSeq := 0
	for _, e := range r.encounters {
		if e.ProviderID == p.ProviderID && e.Date == p.Date && e.Hour() == hour && e.Status.Active() {
			used += e.DurationUnits
			if e.HourSequence > maxSeq {
				maxSeq = e.HourSequence
			}
		}
	}

	if UnitsPerHour-used < p.DurationUnits {
		return nil, ErrSlotUnavailable
	}

	r.globalSeq++
	e := &Encounter{
		ID:             uuid.New(),
		GlobalSequence: r.globalSeq,
		PatientID:      p.PatientID,
		ProviderID:     p.ProviderID,
		Date:           p.Date,
		StartTime:      p.StartTime,
		Kind:           p.Kind,
		DurationUnits:  p.DurationUnits,
		HourSequence:   maxSeq + 1,
		Reason:         p.Reason,
		Status:         StatusPending,
		AuditLog:       []PresenceEvent{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.encounters[e.ID] = e

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) GetEncounterByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok {
		return nil, ErrEncounterNotFound
	}
	return cloneEncounter(e), nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Encounter
	for _, e := range r.encounters {
		if e.PatientID == patientID {
			result = append(result, *cloneEncounter(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

func (r *MemoryRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Encounter
	for _, e := range r.encounters {
		if e.ProviderID == providerID {
			result = append(result, *cloneEncounter(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ai, aj := result[i].Status.Active(), result[j].Status.Active()
		if ai != aj {
			return ai
		}
		return result[i].GlobalSequence < result[j].GlobalSequence
	})
	return result, nil
}

func (r *MemoryRepository) ListPatientHistory(ctx context.Context, patientID uuid.UUID) ([]Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Encounter
	for _, e := range r.encounters {
		if e.PatientID == patientID && e.ReportSubmittedAt != nil && e.Status == StatusCompleted {
			result = append(result, *cloneEncounter(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReportSubmittedAt.After(*result[j].ReportSubmittedAt)
	})
	return result, nil
}

func (r *MemoryRepository) CommittedUnitsByHour(ctx context.Context, providerID uuid.UUID, date string) (map[int]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	usage := make(map[int]int)
	for _, e := range r.encounters {
		if e.ProviderID == providerID && e.Date == date && e.Status.Active() {
			usage[e.Hour()] += e.DurationUnits
		}
	}
	return usage, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, providerID uuid.UUID, from, to Status, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok || e.ProviderID != providerID || e.Status != from {
		return nil, ErrEncounterNotFound
	}

	e.Status = to
	if to == StatusConfirmed && e.Kind == KindRemote && (e.VideoRoomID == nil || *e.VideoRoomID == "") {
		room := fmt.Sprintf("room-%s-%s", e.ID.String()[:8], uuid.NewString()[:10])
		e.VideoRoomID = &room
	}
	if to == StatusCompleted && e.ReportDueAt == nil {
		due := e.ScheduledAt().Add(ReportDueAfter)
		e.ReportDueAt = &due
	}
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) SubmitReport(ctx context.Context, id uuid.UUID, providerID uuid.UUID, report Report, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok || e.ProviderID != providerID || e.ReportLockedAt != nil {
		return nil, ErrEncounterNotFound
	}
	// Re-checked under the mutex: a concurrent transition (dispute,
	// cancel, no-show) must not be overwritten by a report write.
	if e.Status != StatusConfirmed && e.Status != StatusCompleted {
		return nil, ErrEncounterNotFound
	}

	if e.ReportSubmittedAt != nil && !e.ReportSubmittedAt.Add(AddendumWindow).After(now) {
		// Addendum window elapsed: the write locks the report and fails.
		at := now
		e.ReportLockedAt = &at
		e.UpdatedAt = now
		return nil, ErrEncounterNotFound
	}

	rep := report
	e.Report = &rep
	if e.ReportSubmittedAt == nil {
		at := now
		e.ReportSubmittedAt = &at
	}
	if e.ReportDueAt == nil {
		due := e.ScheduledAt().Add(ReportDueAfter)
		e.ReportDueAt = &due
	}
	closed := now
	e.InteractionClosedAt = &closed
	e.Status = StatusCompleted
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) RecordJoin(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok {
		return nil, ErrEncounterNotFound
	}

	if party == PartyProvider {
		if e.ProviderJoinedAt == nil {
			at := now
			e.ProviderJoinedAt = &at
		}
	} else {
		if e.PatientJoinedAt == nil {
			at := now
			e.PatientJoinedAt = &at
		}
	}
	e.AuditLog = append(e.AuditLog, PresenceEvent{
		Event:   EventJoin,
		Party:   party,
		ActorID: actorID.String(),
		At:      now,
	})
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) RecordLeave(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok {
		return nil, ErrEncounterNotFound
	}

	if e.ProviderJoinedAt != nil && e.PatientJoinedAt != nil {
		end := now
		if e.InteractionClosedAt != nil && e.InteractionClosedAt.Before(end) {
			end = *e.InteractionClosedAt
		}
		start := *e.ProviderJoinedAt
		if e.PatientJoinedAt.After(start) {
			start = *e.PatientJoinedAt
		}
		secs := int(end.Sub(start).Seconds())
		if secs < 0 {
			secs = 0
		}
		e.OverlapSeconds = secs
	} else {
		e.OverlapSeconds = 0
	}
	e.AuditLog = append(e.AuditLog, PresenceEvent{
		Event:   EventLeave,
		Party:   party,
		ActorID: actorID.String(),
		At:      now,
	})
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) RaiseDispute(ctx context.Context, id uuid.UUID, raisedBy Party, reason string, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok || (e.Status != StatusConfirmed && e.Status != StatusCompleted) {
		return nil, ErrEncounterNotFound
	}

	e.Status = StatusDisputed
	at := now
	e.DisputeRaisedAt = &at
	by := raisedBy
	e.DisputeRaisedBy = &by
	e.AuditLog = append(e.AuditLog, PresenceEvent{
		Event:  EventDisputeRaised,
		Party:  raisedBy,
		Detail: reason,
		At:     now,
	})
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) ResolveDispute(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok || e.Status != StatusDisputed {
		return nil, ErrEncounterNotFound
	}

	e.Status = resolution.FinalStatus()
	at := now
	e.DisputeResolvedAt = &at
	res := resolution
	e.DisputeResolution = &res
	e.AuditLog = append(e.AuditLog, PresenceEvent{
		Event:   EventDisputeResolved,
		ActorID: resolvedBy,
		Detail:  string(resolution),
		At:      now,
	})
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) MarkNoShow(ctx context.Context, id uuid.UUID, party Party, now time.Time) (*Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok || e.Status != StatusConfirmed {
		return nil, ErrEncounterNotFound
	}
	if party == PartyProvider && e.ProviderJoinedAt != nil {
		return nil, ErrEncounterNotFound
	}
	if party == PartyPatient && e.PatientJoinedAt != nil {
		return nil, ErrEncounterNotFound
	}

	e.Status = StatusNoShow
	e.AuditLog = append(e.AuditLog, PresenceEvent{
		Event: EventNoShow,
		Party: party,
		At:    now,
	})
	e.UpdatedAt = now

	return cloneEncounter(e), nil
}

func (r *MemoryRepository) LockExpiredReports(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	locked := 0
	for _, e := range r.encounters {
		if e.ReportSubmittedAt != nil && e.ReportLockedAt == nil &&
			!e.ReportSubmittedAt.Add(AddendumWindow).After(now) {
			at := now
			e.ReportLockedAt = &at
			e.UpdatedAt = now
			locked++
		}
	}
	return locked, nil
}

func (r *MemoryRepository) FindReportsPastDue(ctx context.Context, now time.Time) ([]Encounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Encounter
	for _, e := range r.encounters {
		if e.Status == StatusCompleted &&
			e.ReportSubmittedAt == nil &&
			e.InteractionClosedAt == nil &&
			e.ReportDueAt != nil && !e.ReportDueAt.After(now) &&
			e.ReminderSentAt == nil {
			result = append(result, *cloneEncounter(e))
		}
	}
	return result, nil
}

func (r *MemoryRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.encounters[id]
	if !ok {
		return ErrEncounterNotFound
	}
	if e.ReminderSentAt == nil {
		at := now
		e.ReminderSentAt = &at
	}
	e.UpdatedAt = now
	return nil
}
