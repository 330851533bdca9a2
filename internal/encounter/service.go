package encounter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/encounter-engine/internal/account"
	"github.com/clinicdesk/encounter-engine/internal/notify"
	"github.com/clinicdesk/encounter-engine/internal/redislock"
	"github.com/clinicdesk/encounter-engine/internal/review"
	"github.com/clinicdesk/encounter-engine/internal/triage"
)

var (
	ErrValidation        = errors.New("invalid input")
	ErrNotEligible       = errors.New("not eligible")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReportLocked      = errors.New("report is locked")
)

type Service struct {
	repo     Repository
	locker   redislock.Locker
	accounts account.Directory
	reviews  review.Gate
	notifier notify.Notifier
	logger   zerolog.Logger

	now func() time.Time
}

func NewService(repo Repository, locker redislock.Locker, accounts account.Directory, reviews review.Gate, notifier notify.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		accounts: accounts,
		reviews:  reviews,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// EstimateDuration re-derives the triage estimate for a kind and reason.
// Booking always calls this again instead of trusting a client value.
func (s *Service) EstimateDuration(kind Kind, reason string) (int, error) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if kind == "" {
		kind = KindInPerson
	}
	if !ValidKind(kind) {
		return 0, fmt.Errorf("%w: unknown encounter kind %q", ErrValidation, kind)
	}
	return triage.Estimate(triage.Kind(kind), trimmed), nil
}

// AvailableSlots returns the HH:MM slots still holding enough capacity
// for requiredUnits on the given date.
func (s *Service) AvailableSlots(ctx context.Context, providerID uuid.UUID, date string, requiredUnits int) ([]string, error) {
	if err := validateDate(date); err != nil {
		return nil, err
	}

	provider, err := s.accounts.ProviderByID(ctx, providerID)
	if err != nil {
		return nil, err
	}

	return s.availableSlots(ctx, provider, date, clampUnits(requiredUnits))
}

func (s *Service) availableSlots(ctx context.Context, provider *account.Provider, date string, requiredUnits int) ([]string, error) {
	usage, err := s.repo.CommittedUnitsByHour(ctx, provider.ID, date)
	if err != nil {
		return nil, fmt.Errorf("read committed units: %w", err)
	}

	base := baseSlots(provider)
	slots := make([]string, 0, len(base))
	for _, slot := range base {
		hour, err := hourOf(slot)
		if err != nil {
			continue
		}
		if UnitsPerHour-usage[hour] >= requiredUnits {
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// Book commits a booking at the requested slot. The duration estimate is
// re-derived from the reason, the target hour is re-validated inside the
// booking lock, and the sequence assignment happens atomically with the
// insert. A lost race surfaces as ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, patientID, providerID uuid.UUID, date, startTime, reason string, kind Kind) (*Encounter, error) {
	trimmedReason := strings.TrimSpace(reason)
	if trimmedReason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if err := validateDate(date); err != nil {
		return nil, err
	}
	normalizedTime := normalizeTime(startTime)
	if normalizedTime == "" {
		return nil, fmt.Errorf("%w: invalid start time %q", ErrValidation, startTime)
	}
	if kind == "" {
		kind = KindInPerson
	}
	if !ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown encounter kind %q", ErrValidation, kind)
	}

	exists, err := s.accounts.PatientExists(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("look up patient: %w", err)
	}
	if !exists {
		return nil, account.ErrPatientNotFound
	}

	pending, err := s.reviews.HasPendingMandatoryReview(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("check mandatory review: %w", err)
	}
	if pending {
		return nil, fmt.Errorf("%w: submit your pending provider review before booking a new encounter", ErrNotEligible)
	}

	provider, err := s.accounts.ProviderByID(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !provider.Bookable() {
		return nil, fmt.Errorf("%w: provider is not available for booking", ErrNotEligible)
	}

	units := triage.Estimate(triage.Kind(kind), trimmedReason)

	slots, err := s.availableSlots(ctx, provider, date, units)
	if err != nil {
		return nil, err
	}
	if !containsSlot(slots, normalizedTime) {
		return nil, ErrSlotUnavailable
	}

	hour, err := hourOf(normalizedTime)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid start time %q", ErrValidation, startTime)
	}

	params := CreateParams{
		PatientID:     patientID,
		ProviderID:    providerID,
		Date:          date,
		StartTime:     normalizedTime,
		Kind:          kind,
		Reason:        trimmedReason,
		DurationUnits: units,
	}

	var created *Encounter
	err = s.withBookingLock(ctx, providerID, date, hour, func(lockCtx context.Context) error {
		// The repository re-checks capacity inside its own transaction.
		enc, err := s.repo.CreateEncounter(lockCtx, params, s.now())
		if err != nil {
			return err
		}
		created = enc
		return nil
	})
	if err != nil {
		if errors.Is(err, redislock.ErrLockNotAcquired) {
			return nil, ErrSlotUnavailable
		}
		return nil, err
	}

	s.logger.Info().
		Str("encounter_id", created.ID.String()).
		Str("provider_id", providerID.String()).
		Str("date", date).
		Int("hour", hour).
		Int("units", units).
		Int("hour_sequence", created.HourSequence).
		Msg("encounter booked")

	return created, nil
}

func (s *Service) withBookingLock(ctx context.Context, providerID uuid.UUID, date string, hour int, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithBookingLock(ctx, providerID, date, hour, fn)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetEncounterByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Encounter, error) {
	return s.repo.ListByPatient(ctx, patientID)
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]Encounter, error) {
	return s.repo.ListByProvider(ctx, providerID)
}

// PatientHistory returns the patient's completed, reported encounters.
// Available to the owning provider once the encounter is accepted.
func (s *Service) PatientHistory(ctx context.Context, encounterID, providerID uuid.UUID) ([]Encounter, error) {
	enc, err := s.ownedByProvider(ctx, encounterID, providerID)
	if err != nil {
		return nil, err
	}
	if enc.Status != StatusConfirmed && enc.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: history is available only after acceptance", ErrNotEligible)
	}
	return s.repo.ListPatientHistory(ctx, enc.PatientID)
}

// Confirm moves pending to confirmed. For remote encounters the video
// room is provisioned on this transition, once.
func (s *Service) Confirm(ctx context.Context, id, providerID uuid.UUID) (*Encounter, error) {
	return s.transition(ctx, id, providerID, StatusPending, StatusConfirmed)
}

func (s *Service) Reject(ctx context.Context, id, providerID uuid.UUID) (*Encounter, error) {
	return s.transition(ctx, id, providerID, StatusPending, StatusRejected)
}

// Cancel releases the slot's capacity. Legal from pending or confirmed.
func (s *Service) Cancel(ctx context.Context, id, providerID uuid.UUID) (*Encounter, error) {
	enc, err := s.ownedByProvider(ctx, id, providerID)
	if err != nil {
		return nil, err
	}
	if enc.InteractionClosedAt != nil {
		return nil, fmt.Errorf("%w: interaction is closed", ErrNotEligible)
	}
	if enc.Status != StatusPending && enc.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidTransition, enc.Status)
	}
	updated, err := s.repo.UpdateStatus(ctx, id, providerID, enc.Status, StatusCancelled, s.now())
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return updated, nil
}

// Complete marks a confirmed encounter completed and stamps the report
// deadline on first entry. The report stays owed until submitted.
func (s *Service) Complete(ctx context.Context, id, providerID uuid.UUID) (*Encounter, error) {
	return s.transition(ctx, id, providerID, StatusConfirmed, StatusCompleted)
}

func (s *Service) transition(ctx context.Context, id, providerID uuid.UUID, from, to Status) (*Encounter, error) {
	enc, err := s.ownedByProvider(ctx, id, providerID)
	if err != nil {
		return nil, err
	}
	if enc.InteractionClosedAt != nil {
		return nil, fmt.Errorf("%w: interaction is closed", ErrNotEligible)
	}
	if enc.Status != from {
		return nil, fmt.Errorf("%w: cannot move %s to %s", ErrInvalidTransition, enc.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, providerID, from, to, s.now())
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			// Lost a concurrent transition race.
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	s.logger.Info().
		Str("encounter_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("encounter transitioned")

	return updated, nil
}

// SubmitReport captures the clinical report and forces completion.
// In-person encounters only need the report itself; remote encounters
// additionally need the validated presence overlap.
func (s *Service) SubmitReport(ctx context.Context, id, providerID uuid.UUID, report Report) (*Encounter, error) {
	report.Summary = strings.TrimSpace(report.Summary)
	report.Narrative = strings.TrimSpace(report.Narrative)
	if report.Summary == "" {
		return nil, fmt.Errorf("%w: treatment summary is required", ErrValidation)
	}
	if report.Narrative == "" {
		return nil, fmt.Errorf("%w: report narrative is required", ErrValidation)
	}
	report.Diagnoses = sanitizeDiagnoses(report.Diagnoses)
	report.Medications = sanitizeMedications(report.Medications)

	enc, err := s.ownedByProvider(ctx, id, providerID)
	if err != nil {
		return nil, err
	}
	if enc.ReportLockedAt != nil {
		return nil, ErrReportLocked
	}
	if enc.ReportSubmittedAt != nil && !s.now().Before(enc.ReportSubmittedAt.Add(AddendumWindow)) {
		// Window elapsed: lock proactively, same as the periodic sweep.
		if _, err := s.repo.LockExpiredReports(ctx, s.now()); err != nil {
			return nil, fmt.Errorf("lock expired reports: %w", err)
		}
		return nil, ErrReportLocked
	}
	if enc.Status != StatusConfirmed && enc.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: report submission requires an accepted encounter", ErrNotEligible)
	}
	if enc.Kind == KindRemote && enc.OverlapSeconds < MinOverlapSeconds {
		return nil, fmt.Errorf("%w: both parties must be present for at least %d seconds", ErrNotEligible, MinOverlapSeconds)
	}

	updated, err := s.repo.SubmitReport(ctx, id, providerID, report, s.now())
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			// Lost a race between our checks and the write: either the
			// sweep locked the report or a concurrent transition moved
			// the encounter out of confirmed/completed.
			latest, readErr := s.repo.GetEncounterByID(ctx, id)
			if readErr != nil {
				return nil, readErr
			}
			if latest.ReportLockedAt != nil {
				return nil, ErrReportLocked
			}
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	return updated, nil
}

// RecordPresence records a join or leave event with a server-side
// timestamp. Client timestamps are never trusted.
func (s *Service) RecordPresence(ctx context.Context, id uuid.UUID, party Party, actorID uuid.UUID, event string) (*Encounter, error) {
	if !ValidParty(party) {
		return nil, fmt.Errorf("%w: unknown party %q", ErrValidation, party)
	}
	if event != EventJoin && event != EventLeave {
		return nil, fmt.Errorf("%w: unknown presence event %q", ErrValidation, event)
	}

	enc, err := s.repo.GetEncounterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !partyOwns(enc, party, actorID) {
		// Mask ownership mismatches.
		return nil, ErrEncounterNotFound
	}
	if enc.Kind != KindRemote {
		return nil, fmt.Errorf("%w: not a remote encounter", ErrNotEligible)
	}

	if event == EventJoin {
		return s.repo.RecordJoin(ctx, id, party, actorID, s.now())
	}
	return s.repo.RecordLeave(ctx, id, party, actorID, s.now())
}

// RaiseDispute lets the patient contest a confirmed or completed
// encounter.
func (s *Service) RaiseDispute(ctx context.Context, id, patientID uuid.UUID, reason string) (*Encounter, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrValidation)
	}

	enc, err := s.repo.GetEncounterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.PatientID != patientID {
		return nil, ErrEncounterNotFound
	}
	if enc.Status != StatusConfirmed && enc.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: disputes need a confirmed or completed encounter", ErrInvalidTransition)
	}

	updated, err := s.repo.RaiseDispute(ctx, id, PartyPatient, strings.TrimSpace(reason), s.now())
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return updated, nil
}

// ResolveDispute settles a disputed encounter. provider_favor and mutual
// resolve to completed, patient_favor voids the encounter.
func (s *Service) ResolveDispute(ctx context.Context, id uuid.UUID, resolution Resolution, resolvedBy string) (*Encounter, error) {
	if !ValidResolution(resolution) {
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrValidation, resolution)
	}

	enc, err := s.repo.GetEncounterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: encounter is not disputed", ErrInvalidTransition)
	}

	updated, err := s.repo.ResolveDispute(ctx, id, resolution, resolvedBy, s.now())
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return updated, nil
}

// MarkNoShow records that the accused party never appeared. The provider
// accuses the patient; the patient (or an operator, with actorID nil)
// accuses the provider.
func (s *Service) MarkNoShow(ctx context.Context, id, actorID uuid.UUID, accused Party) (*Encounter, error) {
	if !ValidParty(accused) {
		return nil, fmt.Errorf("%w: unknown party %q", ErrValidation, accused)
	}

	enc, err := s.repo.GetEncounterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if accused == PartyPatient && enc.ProviderID != actorID {
		return nil, ErrEncounterNotFound
	}
	if accused == PartyProvider && actorID != uuid.Nil && enc.PatientID != actorID {
		return nil, ErrEncounterNotFound
	}
	if enc.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: no-show needs a confirmed encounter", ErrInvalidTransition)
	}
	if (accused == PartyProvider && enc.ProviderJoinedAt != nil) ||
		(accused == PartyPatient && enc.PatientJoinedAt != nil) {
		return nil, fmt.Errorf("%w: the accused party has a recorded join", ErrNotEligible)
	}

	updated, err := s.repo.MarkNoShow(ctx, id, accused, s.now())
	if err != nil {
		if errors.Is(err, ErrEncounterNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return updated, nil
}

// SweepExpiredReportLocks locks every report past its addendum window.
// Safe to run repeatedly; a run with nothing newly expired is a no-op.
func (s *Service) SweepExpiredReportLocks(ctx context.Context) (int, error) {
	count, err := s.repo.LockExpiredReports(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("lock expired reports: %w", err)
	}
	if count > 0 {
		s.logger.Info().Int("locked", count).Msg("report locks swept")
	}
	return count, nil
}

// SweepDueReportReminders notifies providers whose report deadline has
// passed with no submission. One reminder per encounter.
func (s *Service) SweepDueReportReminders(ctx context.Context) (int, error) {
	due, err := s.repo.FindReportsPastDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find due reports: %w", err)
	}

	sent := 0
	for _, enc := range due {
		if err := s.notifier.ReportDue(ctx, enc.ProviderID, enc.ID); err != nil {
			s.logger.Error().Err(err).Str("encounter_id", enc.ID.String()).Msg("reminder dispatch failed")
			continue
		}
		if err := s.repo.MarkReminderSent(ctx, enc.ID, s.now()); err != nil {
			s.logger.Error().Err(err).Str("encounter_id", enc.ID.String()).Msg("reminder marker failed")
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Service) ownedByProvider(ctx context.Context, id, providerID uuid.UUID) (*Encounter, error) {
	enc, err := s.repo.GetEncounterByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if enc.ProviderID != providerID {
		// Ownership mismatches read as not found.
		return nil, ErrEncounterNotFound
	}
	return enc, nil
}

func partyOwns(enc *Encounter, party Party, actorID uuid.UUID) bool {
	if party == PartyProvider {
		return enc.ProviderID == actorID
	}
	return enc.PatientID == actorID
}

// baseSlots is the provider's declared bookable times before capacity
// filtering: every hour for always-open providers, otherwise the fixed
// list with invalid entries dropped.
func baseSlots(provider *account.Provider) []string {
	if provider.AvailabilityMode == account.ModeAlwaysOpen {
		slots := make([]string, 0, 24)
		for hour := 0; hour < 24; hour++ {
			slots = append(slots, fmt.Sprintf("%02d:00", hour))
		}
		return slots
	}

	slots := make([]string, 0, len(provider.AvailabilitySlots))
	for _, raw := range provider.AvailabilitySlots {
		if normalized := normalizeTime(raw); normalized != "" {
			slots = append(slots, normalized)
		}
	}
	return slots
}

// normalizeTime converts a HH:MM-ish string to zero-padded HH:MM, or
// returns "" if it cannot be parsed.
func normalizeTime(raw string) string {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 {
		return ""
	}
	hour, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hour < 0 || hour > 23 {
		return ""
	}
	minute, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minute < 0 || minute > 59 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

func validateDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: invalid date %q", ErrValidation, date)
	}
	return nil
}

func clampUnits(units int) int {
	if units <= 0 {
		return 2
	}
	if units > UnitsPerHour {
		return UnitsPerHour
	}
	return units
}

func containsSlot(slots []string, want string) bool {
	for _, s := range slots {
		if s == want {
			return true
		}
	}
	return false
}

func sanitizeDiagnoses(in []DiagnosisEntry) []DiagnosisEntry {
	out := make([]DiagnosisEntry, 0, len(in))
	for _, d := range in {
		d.Code = strings.TrimSpace(d.Code)
		d.Name = strings.TrimSpace(d.Name)
		if d.Code == "" && d.Name == "" {
			continue
		}
		if d.Type != "icd10" {
			d.Type = "custom"
		}
		out = append(out, d)
	}
	return out
}

func sanitizeMedications(in []MedicationEntry) []MedicationEntry {
	out := make([]MedicationEntry, 0, len(in))
	for _, m := range in {
		m.DrugName = strings.TrimSpace(m.DrugName)
		if m.DrugName == "" {
			continue
		}
		m.Dosage = strings.TrimSpace(m.Dosage)
		m.Frequency = strings.TrimSpace(m.Frequency)
		m.Duration = strings.TrimSpace(m.Duration)
		out = append(out, m)
	}
	return out
}
