package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/encounter-engine/internal/encounter"
)

type RouterConfig struct {
	Service *encounter.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Post("/triage/estimate", estimateHandler(svc))

	r.Get("/providers/{id}/slots", slotsHandler(svc))
	r.Get("/providers/{id}/encounters", listProviderEncountersHandler(svc))
	r.Get("/patients/{id}/encounters", listPatientEncountersHandler(svc))

	r.Post("/encounters", bookEncounterHandler(svc))
	r.Get("/encounters/{id}", getEncounterHandler(svc))
	r.Get("/encounters/{id}/audit", auditHandler(svc))
	r.Get("/encounters/{id}/patient-history", patientHistoryHandler(svc))

	r.Post("/encounters/{id}/confirm", transitionHandler(func(req *http.Request, id, actorID uuid.UUID) (*encounter.Encounter, error) {
		return svc.Confirm(req.Context(), id, actorID)
	}))
	r.Post("/encounters/{id}/reject", transitionHandler(func(req *http.Request, id, actorID uuid.UUID) (*encounter.Encounter, error) {
		return svc.Reject(req.Context(), id, actorID)
	}))
	r.Post("/encounters/{id}/cancel", transitionHandler(func(req *http.Request, id, actorID uuid.UUID) (*encounter.Encounter, error) {
		return svc.Cancel(req.Context(), id, actorID)
	}))
	r.Post("/encounters/{id}/complete", transitionHandler(func(req *http.Request, id, actorID uuid.UUID) (*encounter.Encounter, error) {
		return svc.Complete(req.Context(), id, actorID)
	}))

	r.Put("/encounters/{id}/report", submitReportHandler(svc))
	r.Post("/encounters/{id}/presence", presenceHandler(svc))

	r.Post("/encounters/{id}/dispute", raiseDisputeHandler(svc))
	r.Post("/encounters/{id}/dispute/resolve", resolveDisputeHandler(svc))
	r.Post("/encounters/{id}/no-show", noShowHandler(svc))

	return r
}
