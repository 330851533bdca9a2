package account

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory backs tests and the offline simulator.
type MemoryDirectory struct {
	mu        sync.RWMutex
	providers map[uuid.UUID]Provider
	patients  map[uuid.UUID]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		providers: make(map[uuid.UUID]Provider),
		patients:  make(map[uuid.UUID]struct{}),
	}
}

func (d *MemoryDirectory) AddProvider(p Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[p.ID] = p
}

func (d *MemoryDirectory) AddPatient(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[id] = struct{}{}
}

func (d *MemoryDirectory) ProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (d *MemoryDirectory) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.patients[id]
	return ok, nil
}
