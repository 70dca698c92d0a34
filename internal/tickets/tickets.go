// Package tickets holds the record store for event tickets.
package tickets

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusValid   Status = "valid"
	StatusUsed    Status = "used"
	StatusExpired Status = "expired"
)

// Ticket is an admission for one event.
type Ticket struct {
	ID        string    `json:"id"`
	EventName string    `json:"eventName"`
	Venue     string    `json:"venue"`
	Price     float64   `json:"price"`
	Status    Status    `json:"status"`
	EventAt   time.Time `json:"eventAt"`
}

// Store keeps ticket records in memory.
type Store struct {
	mu      sync.RWMutex
	records []Ticket
}

// NewStore creates a ticket store preloaded with the given records.
func NewStore(records []Ticket) *Store {
	return &Store{records: records}
}

// List returns a copy of every ticket record.
func (s *Store) List(ctx context.Context) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Ticket, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Seed is the fixture set used when no real ticketing source is wired.
func Seed() []Ticket {
	return []Ticket{
		{
			ID:        "tkt_5001",
			EventName: "Feria del Libro",
			Venue:     "Centro de Convenciones",
			Price:     80.00,
			Status:    StatusUsed,
			EventAt:   time.Date(2026, 1, 18, 16, 0, 0, 0, time.UTC),
		},
		{
			ID:        "tkt_5002",
			EventName: "Lucha libre, función estelar",
			Venue:     "Arena Centro",
			Price:     350.00,
			Status:    StatusValid,
			EventAt:   time.Date(2026, 3, 2, 20, 30, 0, 0, time.UTC),
		},
	}
}
