// Package account is the engine's view of the external account
// management system. The engine never owns patient or provider records;
// it only needs to know whether a provider can take bookings and what
// availability they declared.
package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrPatientNotFound  = errors.New("patient not found")
)

type AvailabilityMode string

const (
	ModeAlwaysOpen AvailabilityMode = "always_open"
	ModeFixedSlots AvailabilityMode = "fixed_slots"
)

type Provider struct {
	ID                uuid.UUID
	Name              string
	Specialty         *string
	Verified          bool
	Approved          bool
	Blocked           bool
	AvailabilityMode  AvailabilityMode
	AvailabilitySlots []string // declared HH:MM slots when mode is fixed_slots
}

// Bookable reports whether the provider may take new bookings at all.
func (p *Provider) Bookable() bool {
	return p.Verified && p.Approved && !p.Blocked
}

type Directory interface {
	ProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}
