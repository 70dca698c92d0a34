package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tianguisdev/tianguis/internal/idgen"
	"github.com/tianguisdev/tianguis/internal/metrics"
	"github.com/tianguisdev/tianguis/internal/syncutil"
	"github.com/tianguisdev/tianguis/internal/traces"
)

// DefaultWindowHours is the dispute window applied when a purchase does not
// specify one.
const DefaultWindowHours = 72

// errNoop signals an idempotent re-application: the mutation func made no
// change, so nothing is persisted and subscribers are not notified.
var errNoop = errors.New("noop")

// CreateRequest contains the parameters for opening an escrow transaction.
type CreateRequest struct {
	ProductRef  string `json:"productRef" binding:"required"`
	Title       string `json:"title" binding:"required"`
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	WindowHours int    `json:"windowHours"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status   Status
	BuyerID  string
	SellerID string
}

// Service owns the escrow collection and enforces the state machine.
// Mutations are serialized per transaction code; two racing calls on the same
// code resolve in order, the loser observing an InvalidTransitionError
// against the already-updated state.
type Service struct {
	store       Store
	clock       Clock
	logger      *slog.Logger
	windowHours int
	locks       syncutil.KeyedMutex

	subMu  sync.Mutex
	subs   map[int]func()
	nextID int
}

// NewService creates an escrow service on top of the given store.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		clock:       SystemClock,
		logger:      logger,
		windowHours: DefaultWindowHours,
		subs:        make(map[int]func()),
	}
}

// WithClock overrides the wall clock, for tests and countdown simulations.
func (s *Service) WithClock(c Clock) *Service {
	s.clock = c
	return s
}

// WithWindowHours overrides the dispute window applied to purchases that do
// not specify one.
func (s *Service) WithWindowHours(h int) *Service {
	if h > 0 {
		s.windowHours = h
	}
	return s
}

// Subscribe registers a change callback and returns its unsubscribe func.
// Callbacks carry no payload: consumers re-query after being notified.
func (s *Service) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify runs every subscriber after a durable write. A panicking subscriber
// is isolated: it cannot block the others or fail the mutation.
func (s *Service) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("escrow subscriber panicked", "panic", fmt.Sprint(r))
				}
			}()
			fn()
		}()
	}
}

// Create opens a new transaction in held. Always succeeds for valid input;
// the generated code is unique for the store's lifetime.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Create",
		attribute.String("product_ref", req.ProductRef),
	)
	defer span.End()

	if req.ProductRef == "" || req.Title == "" {
		return nil, errors.New("productRef and title are required")
	}
	if req.BuyerID != "" && req.BuyerID == req.SellerID {
		return nil, errors.New("buyer and seller cannot be the same user")
	}

	hours := req.WindowHours
	if hours <= 0 {
		hours = s.windowHours
	}

	now := s.clock.Now()
	t := &Transaction{
		Code:            idgen.WithPrefix("esc_"),
		ProductRef:      req.ProductRef,
		Title:           req.Title,
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		Status:          StatusHeld,
		CreatedAt:       now,
		DisputeDeadline: now.Add(time.Duration(hours) * time.Hour),
		UpdatedAt:       now,
		Messages:        []Message{},
	}

	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create escrow transaction: %w", err)
	}

	metrics.EscrowTransitions.WithLabelValues(string(StatusHeld)).Inc()
	s.notify()
	return t.Clone(), nil
}

// ConfirmShipment records the seller's shipment assertion. Valid only from
// held; sets the tracking code and appends a system message.
func (s *Service) ConfirmShipment(ctx context.Context, code, actorID, tracking string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmShipment", traces.EscrowCode(code))
	defer span.End()

	if tracking == "" {
		return nil, errors.New("tracking code is required")
	}

	return s.mutate(ctx, code, func(t *Transaction) error {
		if err := bindActor(t, actorID, RoleSeller); err != nil {
			return err
		}
		if t.Status != StatusHeld {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: StatusShipped}
		}
		now := s.clock.Now()
		t.Status = StatusShipped
		t.Tracking = tracking
		t.ShippedAt = &now
		s.appendSystem(t, fmt.Sprintf("Envío confirmado por el vendedor. Guía: %s", tracking))
		return nil
	})
}

// ConfirmDelivery records the buyer's receipt acknowledgement. Valid from
// held or shipped; a buyer may confirm receipt before any shipment event was
// recorded. Idempotent when already delivered.
func (s *Service) ConfirmDelivery(ctx context.Context, code, actorID string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmDelivery", traces.EscrowCode(code))
	defer span.End()

	return s.mutate(ctx, code, func(t *Transaction) error {
		if err := bindActor(t, actorID, RoleBuyer); err != nil {
			return err
		}
		if t.Status == StatusDelivered {
			return errNoop
		}
		if t.Status != StatusHeld && t.Status != StatusShipped {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: StatusDelivered}
		}
		now := s.clock.Now()
		t.Status = StatusDelivered
		t.DeliveredAt = &now
		s.appendSystem(t, "Entrega confirmada por el comprador")
		return nil
	})
}

// ReleaseFunds transfers custody to the seller. Valid only from delivered.
// After release no mutation is permitted except message append.
func (s *Service) ReleaseFunds(ctx context.Context, code, actorID string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ReleaseFunds", traces.EscrowCode(code))
	defer span.End()

	return s.mutate(ctx, code, func(t *Transaction) error {
		if err := bindActor(t, actorID, RoleBuyer); err != nil {
			return err
		}
		if t.Status != StatusDelivered {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: StatusReleased}
		}
		now := s.clock.Now()
		t.Status = StatusReleased
		t.ResolvedAt = &now
		s.appendSystem(t, "Fondos liberados al vendedor")
		return nil
	})
}

// OpenDispute freezes the transaction for adjudication. Valid from held,
// shipped, or delivered. The dispute deadline is a business timer, not a hard
// lock: an expired window does not block this path.
func (s *Service) OpenDispute(ctx context.Context, code, actorID, reason string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.OpenDispute", traces.EscrowCode(code))
	defer span.End()

	return s.mutate(ctx, code, func(t *Transaction) error {
		if err := bindActor(t, actorID, RoleBuyer); err != nil {
			return err
		}
		if !CanTransition(t.Status, StatusDisputed) {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: StatusDisputed}
		}
		t.Status = StatusDisputed
		t.DisputeReason = reason
		return nil
	})
}

// ResolveDispute closes a dispute through the adjudication path.
// Outcome "release" transfers custody to the seller, "cancel" voids the
// transaction in the buyer's favor.
func (s *Service) ResolveDispute(ctx context.Context, code, outcome string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ResolveDispute", traces.EscrowCode(code))
	defer span.End()

	var target Status
	switch outcome {
	case "release":
		target = StatusReleased
	case "cancel":
		target = StatusCancelled
	default:
		return nil, errors.New("resolution must be release or cancel")
	}

	return s.mutate(ctx, code, func(t *Transaction) error {
		if t.Status != StatusDisputed {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: target}
		}
		now := s.clock.Now()
		t.Status = target
		t.Resolution = outcome
		t.ResolvedAt = &now
		return nil
	})
}

// MarkAbandoned is the administrative write-off. Valid from held, shipped,
// or delivered.
func (s *Service) MarkAbandoned(ctx context.Context, code string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.MarkAbandoned", traces.EscrowCode(code))
	defer span.End()

	return s.mutate(ctx, code, func(t *Transaction) error {
		if t.Status == StatusDisputed || !CanTransition(t.Status, StatusAbandoned) {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: StatusAbandoned}
		}
		now := s.clock.Now()
		t.Status = StatusAbandoned
		t.ResolvedAt = &now
		return nil
	})
}

// Cancel administratively voids the transaction. Permitted from any
// non-terminal state, disputes included.
func (s *Service) Cancel(ctx context.Context, code string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Cancel", traces.EscrowCode(code))
	defer span.End()

	return s.mutate(ctx, code, func(t *Transaction) error {
		if t.Terminal() {
			return &InvalidTransitionError{Code: code, From: t.Status, Requested: StatusCancelled}
		}
		now := s.clock.Now()
		t.Status = StatusCancelled
		t.ResolvedAt = &now
		return nil
	})
}

// SendMessage appends to the conversation thread. Permitted in every status:
// the parties must be able to talk even around a dispute or after release.
func (s *Service) SendMessage(ctx context.Context, code, actorID, text string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.SendMessage", traces.EscrowCode(code))
	defer span.End()

	if text == "" {
		return nil, errors.New("message text is required")
	}

	t, err := s.mutate(ctx, code, func(t *Transaction) error {
		role := RoleOf(t, actorID)
		if role != RoleBuyer && role != RoleSeller {
			return ErrUnauthorized
		}
		t.Messages = append(t.Messages, Message{
			ID:     idgen.WithPrefix("msg_"),
			Author: Author(role),
			Text:   text,
			At:     s.clock.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.EscrowMessages.Inc()
	return t, nil
}

// Remaining computes the dispute countdown for a transaction. Pure read:
// floored at zero, never mutates state, not driven by any background timer.
func (s *Service) Remaining(ctx context.Context, code string) (Countdown, error) {
	t, err := s.store.Get(ctx, code)
	if err != nil {
		return Countdown{}, err
	}
	return CountdownUntil(s.clock, t.DisputeDeadline), nil
}

// Get returns a copy of one transaction; callers can mutate it freely.
func (s *Service) Get(ctx context.Context, code string) (*Transaction, error) {
	t, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// List returns copies of the transactions matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]*Transaction, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*Transaction, 0, len(all))
	for _, t := range all {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.BuyerID != "" && t.BuyerID != f.BuyerID {
			continue
		}
		if f.SellerID != "" && t.SellerID != f.SellerID {
			continue
		}
		result = append(result, t.Clone())
	}
	return result, nil
}

// Dirty reports whether the underlying store has an unflushed durable write.
func (s *Service) Dirty() bool {
	if ds, ok := s.store.(DirtyStore); ok {
		return ds.Dirty()
	}
	return false
}

// Flush retries a pending durable write, if the store supports it.
func (s *Service) Flush(ctx context.Context) error {
	if ds, ok := s.store.(DirtyStore); ok {
		return ds.Flush(ctx)
	}
	return nil
}

// mutate runs fn against a fresh copy of the transaction under its per-code
// lock, persists on success, and notifies subscribers after the write.
// Whichever of two racing calls validates first wins; the other sees the
// updated state.
func (s *Service) mutate(ctx context.Context, code string, fn func(t *Transaction) error) (*Transaction, error) {
	unlock := s.locks.Lock(code)

	t, err := s.store.Get(ctx, code)
	if err != nil {
		unlock()
		return nil, err
	}

	prev := t.Status
	if err := fn(t); err != nil {
		unlock()
		if errors.Is(err, errNoop) {
			return t, nil
		}
		return nil, err
	}

	t.UpdatedAt = s.clock.Now()

	if err := s.store.Update(ctx, t); err != nil {
		// Retry once at the store boundary before surfacing the failure.
		if retryErr := s.store.Update(ctx, t); retryErr != nil {
			unlock()
			s.logger.Error("escrow persist failed", "code", code, "error", retryErr)
			return nil, fmt.Errorf("%w: %v", ErrPersistence, retryErr)
		}
	}
	unlock()

	if t.Status != prev {
		metrics.EscrowTransitions.WithLabelValues(string(t.Status)).Inc()
	}
	s.notify()
	return t, nil
}

// appendSystem adds an engine-generated annotation to the thread.
func (s *Service) appendSystem(t *Transaction, text string) {
	t.Messages = append(t.Messages, Message{
		ID:     idgen.WithPrefix("msg_"),
		Author: AuthorSystem,
		Text:   text,
		At:     s.clock.Now(),
	})
}

// bindActor verifies the acting identity holds the expected role, binding a
// vacant role on first interaction. An actor already bound to the other role
// can never claim this one.
func bindActor(t *Transaction, actorID string, want Role) error {
	if actorID == "" {
		return ErrUnauthorized
	}
	switch RoleOf(t, actorID) {
	case want:
		return nil
	case RoleViewer:
		if want == RoleSeller && t.SellerID == "" {
			t.SellerID = actorID
			return nil
		}
		if want == RoleBuyer && t.BuyerID == "" {
			t.BuyerID = actorID
			return nil
		}
	}
	return ErrUnauthorized
}
