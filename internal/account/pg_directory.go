package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) ProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, specialty, is_verified, is_approved, is_blocked,
		       availability_mode, COALESCE(availability_slots, '{}')
		FROM providers
		WHERE id = $1
	`, id).Scan(
		&p.ID,
		&p.Name,
		&p.Specialty,
		&p.Verified,
		&p.Approved,
		&p.Blocked,
		&p.AvailabilityMode,
		&p.AvailabilitySlots,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (d *PgDirectory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var found uuid.UUID
	err := d.pool.QueryRow(ctx, `
		SELECT id FROM patients WHERE id = $1
	`, id).Scan(&found)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
