package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tianguisdev/tianguis/internal/coupons"
	"github.com/tianguisdev/tianguis/internal/escrow"
	"github.com/tianguisdev/tianguis/internal/payments"
	"github.com/tianguisdev/tianguis/internal/tickets"
)

type stubEscrows struct {
	txs []*escrow.Transaction
	err error
}

func (s *stubEscrows) List(ctx context.Context, f escrow.Filter) ([]*escrow.Transaction, error) {
	return s.txs, s.err
}

type stubPayments struct {
	ps  []payments.Payment
	err error
}

func (s *stubPayments) List(ctx context.Context) ([]payments.Payment, error) {
	return s.ps, s.err
}

type stubCoupons struct{ cs []coupons.Coupon }

func (s *stubCoupons) List(ctx context.Context) ([]coupons.Coupon, error) {
	return s.cs, nil
}

type stubTickets struct{ ts []tickets.Ticket }

func (s *stubTickets) List(ctx context.Context) ([]tickets.Ticket, error) {
	return s.ts, nil
}

func date(day int) time.Time {
	return time.Date(2026, 2, day, 12, 0, 0, 0, time.UTC)
}

func testAggregator() (*Aggregator, *stubEscrows) {
	esc := &stubEscrows{txs: []*escrow.Transaction{
		{
			Code:       "esc_1",
			ProductRef: "prod_1",
			Title:      "Cámara digital",
			BuyerID:    "ana",
			Status:     escrow.StatusShipped,
			Tracking:   "MX1",
			CreatedAt:  date(10),
		},
		{
			Code:      "esc_2",
			Title:     "Bicicleta",
			Status:    escrow.StatusHeld,
			CreatedAt: date(12),
		},
	}}
	pay := &stubPayments{ps: []payments.Payment{
		{ID: "pay_1", Concept: "Recarga Telcel", Merchant: "Telcel", Amount: 200, Status: payments.StatusCompleted, PaidAt: date(3)},
		{ID: "pay_2", Concept: "Pago de luz", Merchant: "CFE", Amount: 845.50, Status: payments.StatusPending, PaidAt: date(8)},
	}}
	cpn := &stubCoupons{cs: []coupons.Coupon{
		{ID: "cpn_1", Title: "2x1 en tacos", Merchant: "Taquería El Güero", Category: "comida", Discount: 50, Status: coupons.StatusActive, IssuedAt: date(5)},
	}}
	tck := &stubTickets{ts: []tickets.Ticket{
		{ID: "tkt_1", EventName: "Concierto de rock", Venue: "Foro Sol", Price: 350, Status: tickets.StatusValid, EventAt: date(20)},
	}}
	return NewAggregator(esc, pay, cpn, tck), esc
}

func TestAggregator_QueryAll(t *testing.T) {
	agg, _ := testAggregator()

	rows, err := agg.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 6 {
		t.Fatalf("Expected 6 rows, got %d", len(rows))
	}

	// Default order: newest first by date.
	for i := 1; i < len(rows); i++ {
		if rows[i].Date.After(rows[i-1].Date) {
			t.Errorf("Expected newest-first ordering at %d", i)
		}
	}
}

func TestAggregator_EscrowProjection(t *testing.T) {
	agg, _ := testAggregator()

	rows, err := agg.Query(context.Background(), Filter{Kinds: []Kind{KindEscrow}, Text: "cámara"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}

	r := rows[0]
	if r.Kind != KindEscrow || r.ID != "esc_1" || r.Title != "Cámara digital" {
		t.Errorf("Unexpected projection: %+v", r)
	}
	if r.Amount != nil {
		t.Error("Expected escrow row without amount")
	}
	if r.Status != "shipped" {
		t.Errorf("Expected status shipped, got %q", r.Status)
	}
	if r.Meta["tracking"] != "MX1" || r.Meta["buyerId"] != "ana" {
		t.Errorf("Unexpected meta: %v", r.Meta)
	}
}

func TestAggregator_KindFilter(t *testing.T) {
	agg, _ := testAggregator()

	rows, err := agg.Query(context.Background(), Filter{Kinds: []Kind{KindPayment, KindCoupon}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Kind != KindPayment && r.Kind != KindCoupon {
			t.Errorf("Unexpected kind %s", r.Kind)
		}
	}
}

func TestAggregator_TextSearch(t *testing.T) {
	agg, _ := testAggregator()
	ctx := context.Background()

	// Case-insensitive, across title, ID, and merchant.
	rows, _ := agg.Query(ctx, Filter{Text: "TELCEL"})
	if len(rows) != 1 || rows[0].ID != "pay_1" {
		t.Errorf("Expected the Telcel payment, got %d rows", len(rows))
	}

	rows, _ = agg.Query(ctx, Filter{Text: "esc_2"})
	if len(rows) != 1 || rows[0].Title != "Bicicleta" {
		t.Errorf("Expected lookup by ID, got %d rows", len(rows))
	}

	rows, _ = agg.Query(ctx, Filter{Text: "no existe"})
	if len(rows) != 0 {
		t.Errorf("Expected no rows, got %d", len(rows))
	}
}

func TestAggregator_DateRange(t *testing.T) {
	agg, _ := testAggregator()

	from, to := date(5), date(10)
	rows, err := agg.Query(context.Background(), Filter{From: &from, To: &to})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	// pay_2 (day 8), cpn_1 (day 5), esc_1 (day 10); bounds are inclusive.
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows in range, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Date.Before(from) || r.Date.After(to) {
			t.Errorf("Row %s outside range: %s", r.ID, r.Date)
		}
	}
}

func TestAggregator_AmountRange(t *testing.T) {
	agg, _ := testAggregator()

	min := 100.0
	rows, err := agg.Query(context.Background(), Filter{MinAmount: &min})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// The coupon (50) drops out; escrow rows carry no amount and are not
	// excluded by an amount range.
	byID := map[string]bool{}
	for _, r := range rows {
		byID[r.ID] = true
	}
	if byID["cpn_1"] {
		t.Error("Expected coupon below minimum excluded")
	}
	if !byID["esc_1"] || !byID["esc_2"] {
		t.Error("Expected amount-less escrow rows to pass the range")
	}
	if !byID["pay_1"] || !byID["pay_2"] || !byID["tkt_1"] {
		t.Error("Expected in-range rows kept")
	}
}

func TestAggregator_PerKindSubfilters(t *testing.T) {
	agg, _ := testAggregator()
	ctx := context.Background()

	// An escrow status filter never excludes rows of other kinds.
	rows, err := agg.Query(ctx, Filter{EscrowStatuses: []escrow.Status{escrow.StatusHeld}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	var escrows, others int
	for _, r := range rows {
		if r.Kind == KindEscrow {
			escrows++
			if r.Status != "held" {
				t.Errorf("Expected only held escrows, got %s", r.Status)
			}
		} else {
			others++
		}
	}
	if escrows != 1 || others != 4 {
		t.Errorf("Expected 1 escrow and 4 others, got %d/%d", escrows, others)
	}

	rows, _ = agg.Query(ctx, Filter{
		Kinds:           []Kind{KindPayment},
		PaymentStatuses: []payments.Status{payments.StatusPending},
	})
	if len(rows) != 1 || rows[0].ID != "pay_2" {
		t.Errorf("Expected the pending payment, got %d rows", len(rows))
	}

	rows, _ = agg.Query(ctx, Filter{CouponCategories: []string{"viajes"}})
	for _, r := range rows {
		if r.Kind == KindCoupon {
			t.Error("Expected no coupons outside the category")
		}
	}
}

func TestAggregator_SortByAmount(t *testing.T) {
	agg, _ := testAggregator()

	rows, err := agg.Query(context.Background(), Filter{SortBy: SortByAmount})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	// Ascending; amount-less escrow rows sort as zero, ahead of everything.
	if rows[0].Kind != KindEscrow || rows[1].Kind != KindEscrow {
		t.Errorf("Expected escrow rows first, got %s/%s", rows[0].Kind, rows[1].Kind)
	}
	last := rows[len(rows)-1]
	if last.ID != "pay_2" {
		t.Errorf("Expected largest amount last, got %s", last.ID)
	}
}

func TestAggregator_SortStability(t *testing.T) {
	esc := &stubEscrows{txs: []*escrow.Transaction{
		{Code: "esc_a", Title: "a", Status: escrow.StatusHeld, CreatedAt: date(1)},
		{Code: "esc_b", Title: "b", Status: escrow.StatusHeld, CreatedAt: date(1)},
		{Code: "esc_c", Title: "c", Status: escrow.StatusHeld, CreatedAt: date(1)},
	}}
	agg := NewAggregator(esc, nil, nil, nil)

	// Equal sort keys preserve source order, both directions.
	for _, desc := range []bool{false, true} {
		rows, err := agg.Query(context.Background(), Filter{Descending: desc})
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if rows[0].ID != "esc_a" || rows[1].ID != "esc_b" || rows[2].ID != "esc_c" {
			t.Errorf("desc=%v: expected stable order, got %s,%s,%s",
				desc, rows[0].ID, rows[1].ID, rows[2].ID)
		}
	}
}

func TestAggregator_NilSources(t *testing.T) {
	agg := NewAggregator(nil, &stubPayments{ps: payments.Seed()}, nil, nil)

	rows, err := agg.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rows) != len(payments.Seed()) {
		t.Errorf("Expected only payment rows, got %d", len(rows))
	}
}

func TestAggregator_SourceError(t *testing.T) {
	agg := NewAggregator(nil, &stubPayments{err: errors.New("down")}, nil, nil)

	if _, err := agg.Query(context.Background(), Filter{}); err == nil {
		t.Error("Expected source error to propagate")
	}
}

func TestAggregator_FreshProjection(t *testing.T) {
	agg, esc := testAggregator()
	ctx := context.Background()

	before, _ := agg.Query(ctx, Filter{Kinds: []Kind{KindEscrow}, EscrowStatuses: []escrow.Status{escrow.StatusReleased}})
	if len(before) != 0 {
		t.Fatalf("Expected no released escrows yet, got %d", len(before))
	}

	// A status change in the source is visible on the very next query.
	esc.txs[0].Status = escrow.StatusReleased
	after, _ := agg.Query(ctx, Filter{Kinds: []Kind{KindEscrow}, EscrowStatuses: []escrow.Status{escrow.StatusReleased}})
	if len(after) != 1 || after[0].ID != "esc_1" {
		t.Errorf("Expected the released escrow, got %d rows", len(after))
	}
}
