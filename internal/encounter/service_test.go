package encounter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/encounter-engine/internal/account"
	"github.com/clinicdesk/encounter-engine/internal/notify"
	"github.com/clinicdesk/encounter-engine/internal/review"
)

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	dir      *account.MemoryDirectory
	patient  uuid.UUID
	provider uuid.UUID
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	dir := account.NewMemoryDirectory()

	patient := uuid.New()
	provider := uuid.New()
	dir.AddPatient(patient)
	dir.AddProvider(account.Provider{
		ID:               provider,
		Name:             "Dr. A",
		Verified:         true,
		Approved:         true,
		AvailabilityMode: account.ModeAlwaysOpen,
	})

	svc := NewService(repo, nil, dir, review.AllowAll{}, notify.LogNotifier{Logger: zerolog.Nop()}, zerolog.Nop())
	clock := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	return &fixture{svc: svc, repo: repo, dir: dir, patient: patient, provider: provider, clock: &clock}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) book(t *testing.T, startTime, reason string, kind Kind) *Encounter {
	t.Helper()
	enc, err := f.svc.Book(context.Background(), f.patient, f.provider, "2026-03-12", startTime, reason, kind)
	require.NoError(t, err)
	return enc
}

func (f *fixture) confirmed(t *testing.T, kind Kind) *Encounter {
	t.Helper()
	enc := f.book(t, "09:00", "routine checkup", kind)
	enc, err := f.svc.Confirm(context.Background(), enc.ID, f.provider)
	require.NoError(t, err)
	return enc
}

func TestBookAtOfferedSlotSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	slots, err := f.svc.AvailableSlots(ctx, f.provider, "2026-03-12", 3)
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	enc, err := f.svc.Book(ctx, f.patient, f.provider, "2026-03-12", slots[0], "routine checkup", KindInPerson)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, enc.Status)
	assert.Equal(t, 1, enc.HourSequence)
	assert.Equal(t, 3, enc.DurationUnits) // in-person base
}

func TestHourCapacityScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 3 units at hour 9.
	first := f.book(t, "09:00", "routine checkup", KindInPerson)
	assert.Equal(t, 3, first.DurationUnits)

	// 4 units (remote base 2 + urgent 2) would make 7 > 6.
	_, err := f.svc.Book(ctx, f.patient, f.provider, "2026-03-12", "09:00", "sudden chest pain", KindRemote)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Exactly 3 more units fills the hour to capacity.
	second := f.book(t, "09:00", "another routine checkup", KindInPerson)
	assert.Equal(t, 2, second.HourSequence)

	usage, err := f.repo.CommittedUnitsByHour(ctx, f.provider, "2026-03-12")
	require.NoError(t, err)
	assert.Equal(t, UnitsPerHour, usage[9])

	// The full hour no longer appears in the offered slots.
	slots, err := f.svc.AvailableSlots(ctx, f.provider, "2026-03-12", 1)
	require.NoError(t, err)
	assert.NotContains(t, slots, "09:00")
}

func TestRejectReleasesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "09:00", "routine checkup", KindInPerson)
	second := f.book(t, "09:00", "another routine checkup", KindInPerson)

	_, err := f.svc.Reject(ctx, second.ID, f.provider)
	require.NoError(t, err)

	usage, err := f.repo.CommittedUnitsByHour(ctx, f.provider, "2026-03-12")
	require.NoError(t, err)
	assert.Equal(t, 3, usage[9])

	// Freed units are bookable again.
	third := f.book(t, "09:00", "follow up visit", KindInPerson)
	assert.Equal(t, StatusPending, third.Status)
}

func TestGlobalSequenceMonotonic(t *testing.T) {
	f := newFixture(t)

	var last int64
	for hour := 9; hour < 14; hour++ {
		enc := f.book(t, time.Date(0, 1, 1, hour, 0, 0, 0, time.UTC).Format("15:04"), "routine checkup", KindRemote)
		assert.Greater(t, enc.GlobalSequence, last)
		last = enc.GlobalSequence
	}
}

func TestHourSequenceUniqueAndIncreasing(t *testing.T) {
	f := newFixture(t)

	a := f.book(t, "09:00", "quick question", KindRemote)    // 2 units
	b := f.book(t, "09:00", "another question", KindRemote)  // 2 units
	c := f.book(t, "09:00", "one more question", KindRemote) // 2 units

	assert.Equal(t, []int{1, 2, 3}, []int{a.HourSequence, b.HourSequence, c.HourSequence})
}

func TestConcurrentBookingNeverOversells(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 2 units each; at most 3 can fit in the hour.
			_, _ = f.svc.Book(ctx, f.patient, f.provider, "2026-03-12", "10:00", "quick question", KindRemote)
		}()
	}
	wg.Wait()

	usage, err := f.repo.CommittedUnitsByHour(ctx, f.provider, "2026-03-12")
	require.NoError(t, err)
	assert.LessOrEqual(t, usage[10], UnitsPerHour)

	list, err := f.svc.ListByProvider(ctx, f.provider)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, enc := range list {
		assert.False(t, seen[enc.HourSequence], "duplicate hour sequence %d", enc.HourSequence)
		seen[enc.HourSequence] = true
	}
}

func TestBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, f.patient, f.provider, "2026-03-12", "09:00", "   ", KindInPerson)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Book(ctx, f.patient, f.provider, "not-a-date", "09:00", "checkup", KindInPerson)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Book(ctx, f.patient, f.provider, "2026-03-12", "25:99", "checkup", KindInPerson)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Book(ctx, f.patient, f.provider, "2026-03-12", "09:00", "checkup", Kind("house_call"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBookRequiresBookableProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blocked := uuid.New()
	f.dir.AddProvider(account.Provider{
		ID: blocked, Verified: true, Approved: true, Blocked: true,
		AvailabilityMode: account.ModeAlwaysOpen,
	})

	_, err := f.svc.Book(ctx, f.patient, blocked, "2026-03-12", "09:00", "checkup", KindInPerson)
	assert.ErrorIs(t, err, ErrNotEligible)
}

type pendingReviewGate struct{}

func (pendingReviewGate) HasPendingMandatoryReview(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return true, nil
}

func TestBookBlockedByPendingReview(t *testing.T) {
	f := newFixture(t)
	f.svc.reviews = pendingReviewGate{}

	_, err := f.svc.Book(context.Background(), f.patient, f.provider, "2026-03-12", "09:00", "checkup", KindInPerson)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestFixedSlotProviderBaseSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fixed := uuid.New()
	f.dir.AddProvider(account.Provider{
		ID: fixed, Verified: true, Approved: true,
		AvailabilityMode:  account.ModeFixedSlots,
		AvailabilitySlots: []string{"9:00", "14:30", "garbage", "25:00"},
	})

	slots, err := f.svc.AvailableSlots(ctx, fixed, "2026-03-12", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "14:30"}, slots)
}

func TestConfirmProvisionsVideoRoomOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.book(t, "09:00", "video follow up", KindRemote)
	confirmed, err := f.svc.Confirm(ctx, enc.ID, f.provider)
	require.NoError(t, err)
	require.NotNil(t, confirmed.VideoRoomID)
	room := *confirmed.VideoRoomID

	// A second confirm is an invalid transition, the room survives.
	_, err = f.svc.Confirm(ctx, enc.ID, f.provider)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.svc.Get(ctx, enc.ID)
	require.NoError(t, err)
	assert.Equal(t, room, *got.VideoRoomID)
}

func TestInPersonConfirmHasNoVideoRoom(t *testing.T) {
	f := newFixture(t)

	enc := f.confirmed(t, KindInPerson)
	assert.Nil(t, enc.VideoRoomID)
}

func TestCompleteStampsReportDueAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)
	completed, err := f.svc.Complete(ctx, enc.ID, f.provider)
	require.NoError(t, err)
	require.NotNil(t, completed.ReportDueAt)

	scheduled := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, scheduled.Add(ReportDueAfter), *completed.ReportDueAt)
}

func TestOwnershipMismatchReadsAsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.book(t, "09:00", "checkup", KindInPerson)
	_, err := f.svc.Confirm(ctx, enc.ID, uuid.New())
	assert.ErrorIs(t, err, ErrEncounterNotFound)
}

func TestCancelFromPendingAndConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.book(t, "09:00", "checkup", KindInPerson)
	cancelled, err := f.svc.Cancel(ctx, pending.ID, f.provider)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	confirmed := f.confirmed(t, KindInPerson)
	cancelled, err = f.svc.Cancel(ctx, confirmed.ID, f.provider)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// Cancelling again is a wrong prior status.
	_, err = f.svc.Cancel(ctx, confirmed.ID, f.provider)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPresenceOverlapGatesRemoteReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)

	_, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventJoin)
	require.NoError(t, err)

	f.advance(30 * time.Second)
	_, err = f.svc.RecordPresence(ctx, enc.ID, PartyPatient, f.patient, EventJoin)
	require.NoError(t, err)

	f.advance(3*time.Minute + 30*time.Second)
	got, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventLeave)
	require.NoError(t, err)

	// Provider joined at T, patient at T+30s, leave at T+4m: 210s.
	assert.Equal(t, 210, got.OverlapSeconds)

	submitted, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{
		Summary:   "stable",
		Narrative: "video consult, no acute findings",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, submitted.Status)
	assert.NotNil(t, submitted.ReportSubmittedAt)
	assert.NotNil(t, submitted.InteractionClosedAt)
}

func TestRemoteReportRejectedWithoutOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)

	// Provider joins and leaves; the patient never shows.
	_, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventJoin)
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	got, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventLeave)
	require.NoError(t, err)
	assert.Equal(t, 0, got.OverlapSeconds)

	_, err = f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "s", Narrative: "n"})
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestInPersonReportNeedsNoOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)
	submitted, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{
		Summary:   "seasonal flu",
		Narrative: "rest and fluids",
		Medications: []MedicationEntry{
			{DrugName: " paracetamol ", Dosage: "500mg"},
			{DrugName: ""},
		},
		Diagnoses: []DiagnosisEntry{
			{Code: "J11", Name: "Influenza", Type: "icd10"},
			{Code: "", Name: ""},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, submitted.Report)
	assert.Len(t, submitted.Report.Medications, 1)
	assert.Equal(t, "paracetamol", submitted.Report.Medications[0].DrugName)
	assert.Len(t, submitted.Report.Diagnoses, 1)
}

func TestJoinIdempotentFirstWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)

	first, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventJoin)
	require.NoError(t, err)
	joinedAt := *first.ProviderJoinedAt

	f.advance(5 * time.Minute)
	again, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventJoin)
	require.NoError(t, err)
	assert.Equal(t, joinedAt, *again.ProviderJoinedAt)
	assert.Len(t, again.AuditLog, 2)
}

func TestRepeatedLeaveIdempotentResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)
	_, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventJoin)
	require.NoError(t, err)
	_, err = f.svc.RecordPresence(ctx, enc.ID, PartyPatient, f.patient, EventJoin)
	require.NoError(t, err)

	f.advance(4 * time.Minute)
	first, err := f.svc.RecordPresence(ctx, enc.ID, PartyPatient, f.patient, EventLeave)
	require.NoError(t, err)

	// Same instant, second leave: same anchors, same result.
	second, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventLeave)
	require.NoError(t, err)
	assert.Equal(t, first.OverlapSeconds, second.OverlapSeconds)
}

func TestPresenceRejectedForInPerson(t *testing.T) {
	f := newFixture(t)

	enc := f.confirmed(t, KindInPerson)
	_, err := f.svc.RecordPresence(context.Background(), enc.ID, PartyProvider, f.provider, EventJoin)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestReportLockAfterAddendumWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)
	_, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "first", Narrative: "draft"})
	require.NoError(t, err)

	// Inside the window: addendum applies.
	f.advance(time.Hour)
	updated, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "amended", Narrative: "final"})
	require.NoError(t, err)
	assert.Equal(t, "amended", updated.Report.Summary)
	assert.Nil(t, updated.ReportLockedAt)

	// One second past the window: the write locks and fails.
	f.advance(time.Hour + time.Second)
	_, err = f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "too late", Narrative: "x"})
	assert.ErrorIs(t, err, ErrReportLocked)

	got, err := f.svc.Get(ctx, enc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReportLockedAt)
	assert.Equal(t, "amended", got.Report.Summary)

	// Locked means locked, forever.
	_, err = f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "still late", Narrative: "x"})
	assert.ErrorIs(t, err, ErrReportLocked)
}

func TestReportSubmitLosesToConcurrentDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)

	// A dispute commits between the service's status check and the
	// report write; the guarded update must not overwrite it.
	_, err := f.repo.RaiseDispute(ctx, enc.ID, PartyPatient, "billing disagreement", *f.clock)
	require.NoError(t, err)

	_, err = f.repo.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "s", Narrative: "n"}, *f.clock)
	assert.ErrorIs(t, err, ErrEncounterNotFound)

	got, err := f.svc.Get(ctx, enc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, got.Status)
	assert.Nil(t, got.Report)
	assert.Nil(t, got.ReportSubmittedAt)
	assert.Nil(t, got.InteractionClosedAt)
}

// disputeRacingRepo lands a patient dispute inside the report write,
// after the service has already checked the status.
type disputeRacingRepo struct {
	*MemoryRepository
}

func (r *disputeRacingRepo) SubmitReport(ctx context.Context, id uuid.UUID, providerID uuid.UUID, report Report, now time.Time) (*Encounter, error) {
	if _, err := r.MemoryRepository.RaiseDispute(ctx, id, PartyPatient, "contested", now); err != nil {
		return nil, err
	}
	return r.MemoryRepository.SubmitReport(ctx, id, providerID, report, now)
}

func TestSubmitReportSurfacesConcurrentDisputeAsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)
	f.svc.repo = &disputeRacingRepo{MemoryRepository: f.repo}

	_, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "s", Narrative: "n"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := f.repo.GetEncounterByID(ctx, enc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, got.Status)
	assert.Nil(t, got.Report)
}

func TestSweepExpiredReportLocksIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)
	_, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "s", Narrative: "n"})
	require.NoError(t, err)

	f.advance(AddendumWindow + time.Minute)
	locked, err := f.svc.SweepExpiredReportLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, locked)

	again, err := f.svc.SweepExpiredReportLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) ReportDue(ctx context.Context, providerID, encounterID uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

func TestSweepDueReportReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	notifier := &countingNotifier{}
	f.svc.notifier = notifier

	enc := f.confirmed(t, KindInPerson)
	_, err := f.svc.Complete(ctx, enc.ID, f.provider)
	require.NoError(t, err)

	// Deadline is scheduled time + 24h; jump past it.
	*f.clock = time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)

	sent, err := f.svc.SweepDueReportReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, notifier.calls)

	// One reminder per encounter.
	sent, err = f.svc.SweepDueReportReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, notifier.calls)
}

func TestDisputeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)

	_, err := f.svc.RaiseDispute(ctx, enc.ID, f.patient, "")
	assert.ErrorIs(t, err, ErrValidation)

	disputed, err := f.svc.RaiseDispute(ctx, enc.ID, f.patient, "provider did not show")
	require.NoError(t, err)
	assert.Equal(t, StatusDisputed, disputed.Status)
	require.NotNil(t, disputed.DisputeRaisedBy)
	assert.Equal(t, PartyPatient, *disputed.DisputeRaisedBy)

	// Raising again needs confirmed or completed.
	_, err = f.svc.RaiseDispute(ctx, enc.ID, f.patient, "again")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resolved, err := f.svc.ResolveDispute(ctx, enc.ID, ResolutionPatientFavor, "admin:1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resolved.Status)
	require.NotNil(t, resolved.DisputeResolution)

	// Resolving a settled encounter fails.
	_, err = f.svc.ResolveDispute(ctx, enc.ID, ResolutionMutual, "admin:1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDisputeResolutionsToCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, res := range []Resolution{ResolutionProviderFavor, ResolutionMutual} {
		enc := f.confirmed(t, KindRemote)
		_, err := f.svc.RaiseDispute(ctx, enc.ID, f.patient, "billing disagreement")
		require.NoError(t, err)

		resolved, err := f.svc.ResolveDispute(ctx, enc.ID, res, "admin:1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, resolved.Status)
	}
}

func TestNoShowScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)

	marked, err := f.svc.MarkNoShow(ctx, enc.ID, f.provider, PartyPatient)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, marked.Status)

	// Second attempt hits the wrong prior status.
	_, err = f.svc.MarkNoShow(ctx, enc.ID, f.provider, PartyPatient)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestNoShowBlockedByRecordedJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)
	_, err := f.svc.RecordPresence(ctx, enc.ID, PartyPatient, f.patient, EventJoin)
	require.NoError(t, err)

	_, err = f.svc.MarkNoShow(ctx, enc.ID, f.provider, PartyPatient)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestSystemMarksProviderNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)
	marked, err := f.svc.MarkNoShow(ctx, enc.ID, uuid.Nil, PartyProvider)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, marked.Status)
}

func TestAuditLogAppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindRemote)
	_, err := f.svc.RecordPresence(ctx, enc.ID, PartyProvider, f.provider, EventJoin)
	require.NoError(t, err)
	_, err = f.svc.RecordPresence(ctx, enc.ID, PartyPatient, f.patient, EventJoin)
	require.NoError(t, err)
	_, err = f.svc.RaiseDispute(ctx, enc.ID, f.patient, "call dropped")
	require.NoError(t, err)
	got, err := f.svc.ResolveDispute(ctx, enc.ID, ResolutionMutual, "admin:2")
	require.NoError(t, err)

	events := make([]string, 0, len(got.AuditLog))
	for _, ev := range got.AuditLog {
		events = append(events, ev.Event)
	}
	assert.Equal(t, []string{EventJoin, EventJoin, EventDisputeRaised, EventDisputeResolved}, events)
}

func TestPatientHistoryRequiresAcceptedEncounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.book(t, "09:00", "checkup", KindInPerson)
	_, err := f.svc.PatientHistory(ctx, pending.ID, f.provider)
	assert.ErrorIs(t, err, ErrNotEligible)

	done := f.confirmed(t, KindInPerson)
	_, err = f.svc.SubmitReport(ctx, done.ID, f.provider, Report{Summary: "s", Narrative: "n"})
	require.NoError(t, err)

	history, err := f.svc.PatientHistory(ctx, done.ID, f.provider)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, done.ID, history[0].ID)
}

func TestEstimateDuration(t *testing.T) {
	f := newFixture(t)

	units, err := f.svc.EstimateDuration(KindRemote, "sudden chest pain")
	require.NoError(t, err)
	assert.Equal(t, 4, units)

	_, err = f.svc.EstimateDuration(KindRemote, "  ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTransitionAfterInteractionClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enc := f.confirmed(t, KindInPerson)
	_, err := f.svc.SubmitReport(ctx, enc.ID, f.provider, Report{Summary: "s", Narrative: "n"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, enc.ID, f.provider)
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestUnknownEncounterIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrEncounterNotFound)

	_, err = f.svc.Book(ctx, uuid.New(), f.provider, "2026-03-12", "09:00", "checkup", KindInPerson)
	assert.ErrorIs(t, err, account.ErrPatientNotFound)
}
