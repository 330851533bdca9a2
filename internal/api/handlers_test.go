package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/encounter-engine/internal/account"
	"github.com/clinicdesk/encounter-engine/internal/encounter"
	"github.com/clinicdesk/encounter-engine/internal/notify"
	"github.com/clinicdesk/encounter-engine/internal/review"
)

type testServer struct {
	handler  http.Handler
	patient  uuid.UUID
	provider uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := encounter.NewMemoryRepository()
	dir := account.NewMemoryDirectory()

	patient := uuid.New()
	provider := uuid.New()
	dir.AddPatient(patient)
	dir.AddProvider(account.Provider{
		ID:               provider,
		Name:             "Dr. B",
		Verified:         true,
		Approved:         true,
		AvailabilityMode: account.ModeAlwaysOpen,
	})

	svc := encounter.NewService(repo, nil, dir, review.AllowAll{}, notify.LogNotifier{Logger: zerolog.Nop()}, zerolog.Nop())

	handler := NewRouter(RouterConfig{
		Service: svc,
		Logger:  zerolog.Nop(),
		Env:     "test",
		Version: "test",
	})
	return &testServer{handler: handler, patient: patient, provider: provider}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, actorID uuid.UUID, role string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if actorID != uuid.Nil {
		req.Header.Set("X-Actor-ID", actorID.String())
	}
	if role != "" {
		req.Header.Set("X-Actor-Role", role)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, startTime, reason, kind string) EncounterResponse {
	t.Helper()

	rec := ts.do(t, http.MethodPost, "/encounters", BookEncounterRequest{
		PatientID:  ts.patient.String(),
		ProviderID: ts.provider.String(),
		Date:       "2026-03-12",
		StartTime:  startTime,
		Kind:       kind,
		Reason:     reason,
	}, uuid.Nil, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp EncounterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeEncounter(t *testing.T, rec *httptest.ResponseRecorder) EncounterResponse {
	t.Helper()
	var resp EncounterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestEstimateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/triage/estimate", EstimateRequest{
		Kind:   "remote",
		Reason: "sudden chest pain",
	}, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp EstimateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 4, resp.DurationUnits)
	assert.Equal(t, 40, resp.DurationMinutes)

	rec = ts.do(t, http.MethodPost, "/triage/estimate", EstimateRequest{Kind: "remote"}, uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookAndGetEncounter(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "routine checkup", "in_person")
	assert.Equal(t, "pending", booked.Status)
	assert.Equal(t, 3, booked.DurationUnits)
	assert.Equal(t, 1, booked.HourSequence)

	rec := ts.do(t, http.MethodGet, "/encounters/"+booked.ID.String(), nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeEncounter(t, rec)
	assert.Equal(t, booked.ID, got.ID)

	rec = ts.do(t, http.MethodGet, "/encounters/"+uuid.NewString(), nil, uuid.Nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookConflictCarriesRefreshedSlots(t *testing.T) {
	ts := newTestServer(t)

	// Fill hour 9 completely: 3 + 3 units.
	ts.book(t, "09:00", "routine checkup", "in_person")
	ts.book(t, "09:00", "another routine checkup", "in_person")

	rec := ts.do(t, http.MethodPost, "/encounters", BookEncounterRequest{
		PatientID:  ts.patient.String(),
		ProviderID: ts.provider.String(),
		Date:       "2026-03-12",
		StartTime:  "09:00",
		Kind:       "in_person",
		Reason:     "third visit",
	}, uuid.Nil, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp SlotConflictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "slot_unavailable", resp.Error)
	assert.NotEmpty(t, resp.AvailableSlots)
	assert.NotContains(t, resp.AvailableSlots, "09:00")
	assert.Contains(t, resp.AvailableSlots, "10:00")
}

func TestBookValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/encounters", BookEncounterRequest{
		PatientID:  "not-a-uuid",
		ProviderID: ts.provider.String(),
	}, uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/encounters", BookEncounterRequest{
		PatientID:  uuid.NewString(),
		ProviderID: ts.provider.String(),
		Date:       "2026-03-12",
		StartTime:  "09:00",
		Kind:       "in_person",
		Reason:     "checkup",
	}, uuid.Nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSlotsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	path := fmt.Sprintf("/providers/%s/slots?date=2026-03-12&units=3", ts.provider)
	rec := ts.do(t, http.MethodGet, path, nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SlotsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Slots, 24)
	assert.Contains(t, resp.Slots, "00:00")
	assert.Contains(t, resp.Slots, "23:00")
}

func TestTransitionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "video follow up", "remote")
	base := "/encounters/" + booked.ID.String()

	// Confirming without an actor header fails fast.
	rec := ts.do(t, http.MethodPost, base+"/confirm", nil, uuid.Nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A stranger reads as not found.
	rec = ts.do(t, http.MethodPost, base+"/confirm", nil, uuid.New(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)
	confirmed := decodeEncounter(t, rec)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.NotNil(t, confirmed.VideoRoomID)

	// Confirming twice is a transition conflict.
	rec = ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/complete", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decodeEncounter(t, rec)
	assert.Equal(t, "completed", completed.Status)
	assert.NotNil(t, completed.ReportDueAt)
}

func TestReportEndpointForInPerson(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "routine checkup", "in_person")
	base := "/encounters/" + booked.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, base+"/report", ReportRequest{
		Summary:   "seasonal flu",
		Narrative: "rest and fluids",
	}, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)
	submitted := decodeEncounter(t, rec)
	assert.Equal(t, "completed", submitted.Status)
	assert.NotNil(t, submitted.ReportSubmittedAt)
	assert.NotNil(t, submitted.InteractionClosedAt)

	// Missing summary is a validation error.
	rec = ts.do(t, http.MethodPut, base+"/report", ReportRequest{Narrative: "n"}, ts.provider, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportEndpointBlockedWithoutOverlap(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "video follow up", "remote")
	base := "/encounters/" + booked.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPut, base+"/report", ReportRequest{
		Summary:   "s",
		Narrative: "n",
	}, ts.provider, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errResp))
	assert.Equal(t, "not_eligible", errResp.Error)
}

func TestPresenceAndAuditEndpoints(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "video follow up", "remote")
	base := "/encounters/" + booked.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/presence", PresenceRequest{Event: "join"}, ts.provider, "provider")
	require.Equal(t, http.StatusOK, rec.Code)
	joined := decodeEncounter(t, rec)
	assert.NotNil(t, joined.ProviderJoinedAt)

	rec = ts.do(t, http.MethodPost, base+"/presence", PresenceRequest{Event: "join"}, ts.patient, "patient")
	require.Equal(t, http.StatusOK, rec.Code)

	// An unknown event is rejected.
	rec = ts.do(t, http.MethodPost, base+"/presence", PresenceRequest{Event: "wave"}, ts.patient, "patient")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A mismatched actor reads as not found.
	rec = ts.do(t, http.MethodPost, base+"/presence", PresenceRequest{Event: "leave"}, uuid.New(), "patient")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/audit", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var audit AuditResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&audit))
	require.Len(t, audit.Events, 2)
	assert.Equal(t, "join", audit.Events[0].Event)
}

func TestDisputeEndpoints(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "video follow up", "remote")
	base := "/encounters/" + booked.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/dispute", DisputeRequest{Reason: "provider did not show"}, ts.patient, "")
	require.Equal(t, http.StatusOK, rec.Code)
	disputed := decodeEncounter(t, rec)
	assert.Equal(t, "disputed", disputed.Status)

	rec = ts.do(t, http.MethodPost, base+"/dispute/resolve", ResolveDisputeRequest{
		Resolution: "patient_favor",
		ResolvedBy: "admin:1",
	}, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decodeEncounter(t, rec)
	assert.Equal(t, "cancelled", resolved.Status)

	rec = ts.do(t, http.MethodPost, base+"/dispute/resolve", ResolveDisputeRequest{
		Resolution: "mutual",
		ResolvedBy: "admin:1",
	}, uuid.Nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNoShowEndpoint(t *testing.T) {
	ts := newTestServer(t)

	booked := ts.book(t, "09:00", "video follow up", "remote")
	base := "/encounters/" + booked.ID.String()

	rec := ts.do(t, http.MethodPost, base+"/confirm", nil, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/no-show", NoShowRequest{Accused: "patient"}, ts.provider, "")
	require.Equal(t, http.StatusOK, rec.Code)
	marked := decodeEncounter(t, rec)
	assert.Equal(t, "no_show", marked.Status)

	rec = ts.do(t, http.MethodPost, base+"/no-show", NoShowRequest{Accused: "patient"}, ts.provider, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListEndpoints(t *testing.T) {
	ts := newTestServer(t)

	ts.book(t, "09:00", "routine checkup", "in_person")
	ts.book(t, "10:00", "follow up visit", "remote")

	rec := ts.do(t, http.MethodGet, "/patients/"+ts.patient.String()+"/encounters", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []EncounterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 2)

	rec = ts.do(t, http.MethodGet, "/providers/"+ts.provider.String()+"/encounters", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestHealthLiveness(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", nil, uuid.Nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LivenessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}
