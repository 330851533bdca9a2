package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/encounter-engine/internal/account"
	"github.com/clinicdesk/encounter-engine/internal/encounter"
)

func estimateHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EstimateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		units, err := svc.EstimateDuration(encounter.Kind(req.Kind), req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		kind := req.Kind
		if kind == "" {
			kind = string(encounter.KindInPerson)
		}
		writeJSON(w, http.StatusOK, EstimateResponse{
			Kind:            kind,
			DurationUnits:   units,
			DurationMinutes: units * encounter.UnitMinutes,
		})
	}
}

func slotsHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}
		date := r.URL.Query().Get("date")
		units, _ := strconv.Atoi(r.URL.Query().Get("units"))

		slots, err := svc.AvailableSlots(r.Context(), providerID, date, units)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			ProviderID: providerID,
			Date:       date,
			Slots:      slots,
		})
	}
}

func bookEncounterHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookEncounterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		providerID, err := uuid.Parse(req.ProviderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
			return
		}

		enc, err := svc.Book(r.Context(), patientID, providerID, req.Date, req.StartTime, req.Reason, encounter.Kind(req.Kind))
		if err != nil {
			if errors.Is(err, encounter.ErrSlotUnavailable) {
				units, estErr := svc.EstimateDuration(encounter.Kind(req.Kind), req.Reason)
				if estErr != nil {
					units = 0
				}
				slots, slotsErr := svc.AvailableSlots(r.Context(), providerID, req.Date, units)
				if slotsErr != nil {
					slots = []string{}
				}
				writeJSON(w, http.StatusConflict, SlotConflictResponse{
					Error:          "slot_unavailable",
					Details:        "the requested hour no longer has capacity for this encounter",
					AvailableSlots: slots,
				})
				return
			}
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toEncounterResponse(enc))
	}
}

func getEncounterHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}

		enc, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func listPatientEncountersHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		list, err := svc.ListByPatient(r.Context(), patientID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponses(list))
	}
}

func listProviderEncountersHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", "id must be a valid UUID")
			return
		}

		list, err := svc.ListByProvider(r.Context(), providerID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponses(list))
	}
}

type transitionFunc func(r *http.Request, id, actorID uuid.UUID) (*encounter.Encounter, error)

func transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}
		actorID, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID must be a valid UUID")
			return
		}

		enc, err := fn(r, id, actorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func submitReportHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}
		actorID, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID must be a valid UUID")
			return
		}

		var req ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		enc, err := svc.SubmitReport(r.Context(), id, actorID, encounter.Report{
			Summary:             req.Summary,
			Narrative:           req.Narrative,
			Diagnoses:           req.Diagnoses,
			Medications:         req.Medications,
			Prescriptions:       req.Prescriptions,
			Recommendations:     req.Recommendations,
			ClinicalNotes:       req.ClinicalNotes,
			PatientInstructions: req.PatientInstructions,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func presenceHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}
		actorID, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID must be a valid UUID")
			return
		}
		party := encounter.Party(r.Header.Get("X-Actor-Role"))

		var req PresenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		enc, err := svc.RecordPresence(r.Context(), id, party, actorID, req.Event)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func auditHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}

		enc, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AuditResponse{
			EncounterID: enc.ID,
			Events:      enc.AuditLog,
		})
	}
}

func raiseDisputeHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}
		actorID, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID must be a valid UUID")
			return
		}

		var req DisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		enc, err := svc.RaiseDispute(r.Context(), id, actorID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func resolveDisputeHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}

		var req ResolveDisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		enc, err := svc.ResolveDispute(r.Context(), id, encounter.Resolution(req.Resolution), req.ResolvedBy)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func noShowHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}

		// No X-Actor-ID means an operator acting on the patient's behalf.
		actorID := uuid.Nil
		if raw := r.Header.Get("X-Actor-ID"); raw != "" {
			actorID, err = uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID must be a valid UUID")
				return
			}
		}

		var req NoShowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		enc, err := svc.MarkNoShow(r.Context(), id, actorID, encounter.Party(req.Accused))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponse(enc))
	}
}

func patientHistoryHandler(svc *encounter.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_encounter_id", "id must be a valid UUID")
			return
		}
		actorID, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor", "X-Actor-ID must be a valid UUID")
			return
		}

		list, err := svc.PatientHistory(r.Context(), id, actorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEncounterResponses(list))
	}
}

func actorFrom(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, encounter.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, account.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, account.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, encounter.ErrEncounterNotFound):
		writeError(w, http.StatusNotFound, "encounter_not_found", err.Error())
	case errors.Is(err, encounter.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, encounter.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, encounter.ErrNotEligible):
		writeError(w, http.StatusConflict, "not_eligible", err.Error())
	case errors.Is(err, encounter.ErrReportLocked):
		writeError(w, http.StatusLocked, "report_locked", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
