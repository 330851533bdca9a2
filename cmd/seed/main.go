package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/encounter-engine/internal/db"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "seed").Logger()

func main() {
	logger.Info().Msg("seed starting")

	_ = godotenv.Load()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := createSchema(context.Background(), pool); err != nil {
		logger.Fatal().Err(err).Msg("create schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedProviders(context.Background(), pool, 100); err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}
	if err := seedPatients(context.Background(), pool, 9000); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	logger.Info().Msg("creating schema")

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS providers (
			id                 UUID PRIMARY KEY,
			name               TEXT NOT NULL,
			specialty          TEXT,
			is_verified        BOOLEAN NOT NULL DEFAULT FALSE,
			is_approved        BOOLEAN NOT NULL DEFAULT FALSE,
			is_blocked         BOOLEAN NOT NULL DEFAULT FALSE,
			availability_mode  TEXT NOT NULL DEFAULT 'always_open',
			availability_slots TEXT[],
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS patients (
			id         UUID PRIMARY KEY,
			name       TEXT NOT NULL,
			email      TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS encounters (
			id                    UUID PRIMARY KEY,
			global_sequence       BIGINT GENERATED ALWAYS AS IDENTITY,
			patient_id            UUID NOT NULL REFERENCES patients(id),
			provider_id           UUID NOT NULL REFERENCES providers(id),
			encounter_date        DATE NOT NULL,
			start_time            TIME NOT NULL,
			kind                  TEXT NOT NULL,
			duration_units        INT NOT NULL,
			hour_sequence         INT NOT NULL,
			reason                TEXT NOT NULL,
			status                TEXT NOT NULL DEFAULT 'pending',
			video_room_id         TEXT,
			report                JSONB,
			report_due_at         TIMESTAMPTZ,
			report_submitted_at   TIMESTAMPTZ,
			report_locked_at      TIMESTAMPTZ,
			reminder_sent_at      TIMESTAMPTZ,
			interaction_closed_at TIMESTAMPTZ,
			provider_joined_at    TIMESTAMPTZ,
			patient_joined_at     TIMESTAMPTZ,
			overlap_seconds       INT NOT NULL DEFAULT 0,
			audit_log             JSONB NOT NULL DEFAULT '[]'::jsonb,
			dispute_raised_at     TIMESTAMPTZ,
			dispute_raised_by     TEXT,
			dispute_resolved_at   TIMESTAMPTZ,
			dispute_resolution    TEXT,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_encounters_provider_day
			ON encounters (provider_id, encounter_date);
		CREATE INDEX IF NOT EXISTS idx_encounters_patient
			ON encounters (patient_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_encounters_hour_sequence
			ON encounters (provider_id, encounter_date, date_part('hour', start_time), hour_sequence)
			WHERE status IN ('pending', 'confirmed');
		CREATE INDEX IF NOT EXISTS idx_encounters_report_due
			ON encounters (report_due_at)
			WHERE report_submitted_at IS NULL AND reminder_sent_at IS NULL;

		CREATE TABLE IF NOT EXISTS reviews (
			id            UUID PRIMARY KEY,
			encounter_id  UUID NOT NULL REFERENCES encounters(id),
			reviewer_id   UUID NOT NULL,
			reviewer_role TEXT NOT NULL,
			reviewee_id   UUID NOT NULL,
			reviewee_role TEXT NOT NULL,
			rating        INT,
			comment       TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id           UUID PRIMARY KEY,
			recipient_id UUID NOT NULL,
			encounter_id UUID,
			title        TEXT NOT NULL,
			body         TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}

	logger.Info().Msg("schema ready")
	return nil
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding providers")

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	fixedSlots := []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		mode := "always_open"
		var slots []string
		if gofakeit.Bool() {
			mode = "fixed_slots"
			slots = fixedSlots
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, is_verified, is_approved, is_blocked,
			                       availability_mode, availability_slots, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, TRUE, FALSE, $4, $5, now(), now())
		`, id, name, spec, mode, slots)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("providers seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		logger.Info().Int("seeded", end).Int("total", count).Msg("patients progress")
	}

	logger.Info().Msg("patients seeded")
	return nil
}
