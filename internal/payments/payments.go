// Package payments holds the record store for monetary payments made through
// the marketplace. Read-only from the ledger's point of view: records are
// appended by the payment flow and never mutated afterwards.
package payments

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment is one monetary transaction with a merchant.
type Payment struct {
	ID       string    `json:"id"`
	Concept  string    `json:"concept"`
	Merchant string    `json:"merchant"`
	Amount   float64   `json:"amount"`
	Status   Status    `json:"status"`
	PaidAt   time.Time `json:"paidAt"`
}

// Store keeps payment records in memory.
type Store struct {
	mu      sync.RWMutex
	records []Payment
}

// NewStore creates a payment store preloaded with the given records.
func NewStore(records []Payment) *Store {
	return &Store{records: records}
}

// List returns a copy of every payment record.
func (s *Store) List(ctx context.Context) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Payment, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Add appends a record.
func (s *Store) Add(ctx context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, p)
	return nil
}

// Seed is the fixture set used when no real payment source is wired.
func Seed() []Payment {
	return []Payment{
		{
			ID:       "pay_7001",
			Concept:  "Recarga telefónica 200",
			Merchant: "Telcel",
			Amount:   200.00,
			Status:   StatusCompleted,
			PaidAt:   time.Date(2026, 2, 3, 11, 20, 0, 0, time.UTC),
		},
		{
			ID:       "pay_7002",
			Concept:  "Pago de luz CFE",
			Merchant: "CFE",
			Amount:   845.50,
			Status:   StatusCompleted,
			PaidAt:   time.Date(2026, 2, 8, 19, 5, 0, 0, time.UTC),
		},
		{
			ID:       "pay_7003",
			Concept:  "Suscripción mensual",
			Merchant: "StreamMX",
			Amount:   129.00,
			Status:   StatusPending,
			PaidAt:   time.Date(2026, 2, 14, 8, 0, 0, 0, time.UTC),
		},
	}
}
