// Package coupons holds the record store for coupon redemptions.
package coupons

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a coupon.
type Status string

const (
	StatusActive   Status = "active"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
)

// Coupon is one discount coupon a user holds or has redeemed.
type Coupon struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Merchant string    `json:"merchant"`
	Category string    `json:"category"`
	Discount float64   `json:"discount"` // value in currency, not percent
	Status   Status    `json:"status"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Store keeps coupon records in memory.
type Store struct {
	mu      sync.RWMutex
	records []Coupon
}

// NewStore creates a coupon store preloaded with the given records.
func NewStore(records []Coupon) *Store {
	return &Store{records: records}
}

// List returns a copy of every coupon record.
func (s *Store) List(ctx context.Context) ([]Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Coupon, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Seed is the fixture set used when no real coupon source is wired.
func Seed() []Coupon {
	return []Coupon{
		{
			ID:       "cup_3001",
			Title:    "2x1 en café americano",
			Merchant: "Café La Selva",
			Category: "restaurantes",
			Discount: 45.00,
			Status:   StatusRedeemed,
			IssuedAt: time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:       "cup_3002",
			Title:    "15% de descuento en abarrotes",
			Merchant: "Super del Barrio",
			Category: "supermercado",
			Discount: 120.00,
			Status:   StatusActive,
			IssuedAt: time.Date(2026, 2, 5, 12, 30, 0, 0, time.UTC),
		},
		{
			ID:       "cup_3003",
			Title:    "Envío gratis en tu primer pedido",
			Merchant: "Tianguis",
			Category: "marketplace",
			Discount: 60.00,
			Status:   StatusExpired,
			IssuedAt: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}
