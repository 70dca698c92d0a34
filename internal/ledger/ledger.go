// Package ledger projects escrow, payment, coupon, and ticket records into
// one normalized, filterable, sortable stream.
//
// The ledger holds no state of its own: every query pulls a fresh snapshot
// from the four sources, so it can never be stale relative to a
// just-completed escrow transition.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tianguisdev/tianguis/internal/coupons"
	"github.com/tianguisdev/tianguis/internal/escrow"
	"github.com/tianguisdev/tianguis/internal/metrics"
	"github.com/tianguisdev/tianguis/internal/payments"
	"github.com/tianguisdev/tianguis/internal/tickets"
)

// Kind identifies which source a projected record came from.
type Kind string

const (
	KindPayment Kind = "payment"
	KindEscrow  Kind = "escrow"
	KindCoupon  Kind = "coupon"
	KindEvent   Kind = "event"
)

// Transaction is the unified read-only projection. Every field derives from
// exactly one source record at projection time.
type Transaction struct {
	Kind   Kind              `json:"kind"`
	ID     string            `json:"id"`
	Title  string            `json:"title"`
	Date   time.Time         `json:"date"`
	Amount *float64          `json:"amount,omitempty"` // escrow records carry none
	Status string            `json:"status"`
	Meta   map[string]string `json:"meta,omitempty"`

	haystack string
}

// SortField selects the sort key.
type SortField string

const (
	SortByDate   SortField = "date"
	SortByAmount SortField = "amount"
)

// Filter narrows and orders a query. Zero values match everything; the
// default is all kinds, no range, no text filter, newest first by date.
type Filter struct {
	Text  string
	Kinds []Kind
	From  *time.Time
	To    *time.Time

	// Per-kind sub-filters, applied only to records of that kind.
	EscrowStatuses   []escrow.Status
	PaymentStatuses  []payments.Status
	CouponCategories []string
	TicketStatuses   []tickets.Status

	// Amount range, applied only to records that carry an amount.
	MinAmount *float64
	MaxAmount *float64

	SortBy     SortField
	Descending bool
}

// EscrowSource supplies escrow transactions.
type EscrowSource interface {
	List(ctx context.Context, f escrow.Filter) ([]*escrow.Transaction, error)
}

// PaymentSource supplies payment records.
type PaymentSource interface {
	List(ctx context.Context) ([]payments.Payment, error)
}

// CouponSource supplies coupon records.
type CouponSource interface {
	List(ctx context.Context) ([]coupons.Coupon, error)
}

// TicketSource supplies event ticket records.
type TicketSource interface {
	List(ctx context.Context) ([]tickets.Ticket, error)
}

// Aggregator is the unified transaction ledger over the four sources.
type Aggregator struct {
	escrows  EscrowSource
	payments PaymentSource
	coupons  CouponSource
	tickets  TicketSource
}

// NewAggregator wires the four sources. Any source may be nil; its kind then
// simply contributes no records.
func NewAggregator(e EscrowSource, p PaymentSource, c CouponSource, t TicketSource) *Aggregator {
	return &Aggregator{escrows: e, payments: p, coupons: c, tickets: t}
}

// Query projects, filters, and sorts a fresh snapshot of all sources.
func (a *Aggregator) Query(ctx context.Context, f Filter) ([]Transaction, error) {
	rows, err := a.collect(ctx, f)
	if err != nil {
		return nil, err
	}

	out := rows[:0]
	for _, r := range rows {
		if matches(r, f) {
			out = append(out, r)
		}
	}

	sortRows(out, f)
	metrics.LedgerQueries.Inc()
	return out, nil
}

// collect pulls from each source the filter does not exclude by kind.
func (a *Aggregator) collect(ctx context.Context, f Filter) ([]Transaction, error) {
	var rows []Transaction

	if a.escrows != nil && wantKind(f.Kinds, KindEscrow) {
		txs, err := a.escrows.List(ctx, escrow.Filter{})
		if err != nil {
			return nil, fmt.Errorf("list escrows: %w", err)
		}
		for _, t := range txs {
			rows = append(rows, projectEscrow(t))
		}
	}

	if a.payments != nil && wantKind(f.Kinds, KindPayment) {
		ps, err := a.payments.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list payments: %w", err)
		}
		for _, p := range ps {
			rows = append(rows, projectPayment(p))
		}
	}

	if a.coupons != nil && wantKind(f.Kinds, KindCoupon) {
		cs, err := a.coupons.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list coupons: %w", err)
		}
		for _, c := range cs {
			rows = append(rows, projectCoupon(c))
		}
	}

	if a.tickets != nil && wantKind(f.Kinds, KindEvent) {
		ts, err := a.tickets.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tickets: %w", err)
		}
		for _, t := range ts {
			rows = append(rows, projectTicket(t))
		}
	}

	return rows, nil
}

func projectEscrow(t *escrow.Transaction) Transaction {
	meta := map[string]string{
		"productRef": t.ProductRef,
	}
	if t.BuyerID != "" {
		meta["buyerId"] = t.BuyerID
	}
	if t.SellerID != "" {
		meta["sellerId"] = t.SellerID
	}
	if t.Tracking != "" {
		meta["tracking"] = t.Tracking
	}
	return Transaction{
		Kind:     KindEscrow,
		ID:       t.Code,
		Title:    t.Title,
		Date:     t.CreatedAt,
		Status:   string(t.Status),
		Meta:     meta,
		haystack: buildHaystack(t.Code, t.Title, t.ProductRef),
	}
}

func projectPayment(p payments.Payment) Transaction {
	amount := p.Amount
	return Transaction{
		Kind:   KindPayment,
		ID:     p.ID,
		Title:  p.Concept,
		Date:   p.PaidAt,
		Amount: &amount,
		Status: string(p.Status),
		Meta: map[string]string{
			"merchant": p.Merchant,
		},
		haystack: buildHaystack(p.ID, p.Concept, p.Merchant),
	}
}

func projectCoupon(c coupons.Coupon) Transaction {
	amount := c.Discount
	return Transaction{
		Kind:   KindCoupon,
		ID:     c.ID,
		Title:  c.Title,
		Date:   c.IssuedAt,
		Amount: &amount,
		Status: string(c.Status),
		Meta: map[string]string{
			"merchant": c.Merchant,
			"category": c.Category,
		},
		haystack: buildHaystack(c.ID, c.Title, c.Merchant, c.Category),
	}
}

func projectTicket(t tickets.Ticket) Transaction {
	amount := t.Price
	return Transaction{
		Kind:   KindEvent,
		ID:     t.ID,
		Title:  t.EventName,
		Date:   t.EventAt,
		Amount: &amount,
		Status: string(t.Status),
		Meta: map[string]string{
			"venue": t.Venue,
		},
		haystack: buildHaystack(t.ID, t.EventName, t.Venue),
	}
}

func buildHaystack(parts ...string) string {
	return strings.ToLower(strings.Join(parts, " "))
}

func wantKind(kinds []Kind, k Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func matches(r Transaction, f Filter) bool {
	if f.Text != "" && !strings.Contains(r.haystack, strings.ToLower(f.Text)) {
		return false
	}
	if f.From != nil && r.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Date.After(*f.To) {
		return false
	}

	// Amount range applies only to records that carry an amount.
	if r.Amount != nil {
		if f.MinAmount != nil && *r.Amount < *f.MinAmount {
			return false
		}
		if f.MaxAmount != nil && *r.Amount > *f.MaxAmount {
			return false
		}
	}

	switch r.Kind {
	case KindEscrow:
		return matchesEnum(r.Status, f.EscrowStatuses)
	case KindPayment:
		return matchesEnum(r.Status, f.PaymentStatuses)
	case KindCoupon:
		return matchesEnum(r.Meta["category"], f.CouponCategories)
	case KindEvent:
		return matchesEnum(r.Status, f.TicketStatuses)
	}
	return true
}

func matchesEnum[T ~string](value string, allowed []T) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if string(a) == value {
			return true
		}
	}
	return false
}

// sortRows orders rows stably by the requested key. Records without an
// amount sort as if amount were zero.
func sortRows(rows []Transaction, f Filter) {
	key := f.SortBy
	if key == "" {
		key = SortByDate
	}

	less := func(i, j int) bool {
		switch key {
		case SortByAmount:
			return amountOrZero(rows[i]) < amountOrZero(rows[j])
		default:
			return rows[i].Date.Before(rows[j].Date)
		}
	}
	if f.Descending {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(rows, less)
}

func amountOrZero(r Transaction) float64 {
	if r.Amount == nil {
		return 0
	}
	return *r.Amount
}
