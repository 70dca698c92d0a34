// Package escrow implements custody of marketplace payments between a buyer
// and a seller.
//
// Flow:
//  1. Buyer pays for a listing → transaction created as "held"
//  2. Seller ships → "shipped", tracking code recorded
//  3. Buyer confirms receipt → "delivered" (may skip the shipment ack)
//  4. Buyer releases → "released", custody logically transfers to the seller
//  5. Dispute, abandonment, or cancellation exit the happy path
package escrow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("escrow transaction not found")
	ErrUnauthorized = errors.New("not authorized for this escrow operation")
	ErrPersistence  = errors.New("escrow persistence failed")
)

// ErrInvalidTransition is the sentinel matched by errors.Is for any
// *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid escrow transition")

// InvalidTransitionError reports a transition not defined for the
// transaction's current status. It is caller-recoverable: the record is
// untouched and the caller can re-sync against the actual state.
type InvalidTransitionError struct {
	Code      string
	From      Status
	Requested Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("escrow %s: cannot transition from %s to %s", e.Code, e.From, e.Requested)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Status represents the state of an escrow transaction.
type Status string

const (
	StatusHeld      Status = "held"      // Funds in custody, nothing shipped yet
	StatusShipped   Status = "shipped"   // Seller asserted shipment
	StatusDelivered Status = "delivered" // Buyer acknowledged receipt
	StatusReleased  Status = "released"  // Custody transferred to seller
	StatusDisputed  Status = "disputed"  // Buyer opened a dispute, awaiting adjudication
	StatusAbandoned Status = "abandoned" // Administratively written off
	StatusCancelled Status = "cancelled" // Administratively voided, funds back to buyer
)

// Terminal returns true when no participant-driven transition remains.
func (s Status) Terminal() bool {
	switch s {
	case StatusReleased, StatusCancelled, StatusAbandoned:
		return true
	}
	return false
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusHeld, StatusShipped, StatusDelivered, StatusReleased,
		StatusDisputed, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// transitions is the edge set of the state machine. cancelled is reachable
// from every non-terminal state; disputed resolves only through adjudication.
var transitions = map[Status][]Status{
	StatusHeld:      {StatusShipped, StatusDelivered, StatusDisputed, StatusAbandoned, StatusCancelled},
	StatusShipped:   {StatusDelivered, StatusDisputed, StatusAbandoned, StatusCancelled},
	StatusDelivered: {StatusReleased, StatusDisputed, StatusAbandoned, StatusCancelled},
	StatusDisputed:  {StatusReleased, StatusCancelled},
}

// CanTransition reports whether the state machine defines an edge from → to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Author identifies who wrote a thread message.
type Author string

const (
	AuthorBuyer  Author = "buyer"
	AuthorSeller Author = "seller"
	AuthorSystem Author = "system" // transition annotations appended by the engine
)

// Message is one entry in a transaction's conversation thread.
// The thread is append-only; messages are never edited or removed.
type Message struct {
	ID     string    `json:"id"`
	Author Author    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Transaction represents custody of funds for one sale.
type Transaction struct {
	Code            string     `json:"code"`
	ProductRef      string     `json:"productRef"`
	Title           string     `json:"title"`
	BuyerID         string     `json:"buyerId,omitempty"`
	SellerID        string     `json:"sellerId,omitempty"`
	Status          Status     `json:"status"`
	Tracking        string     `json:"tracking,omitempty"`
	DisputeReason   string     `json:"disputeReason,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	DisputeDeadline time.Time  `json:"disputeDeadline"`
	ShippedAt       *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time `json:"deliveredAt,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	Messages        []Message  `json:"messages"`
}

// Terminal returns true if the transaction is in a final state.
func (t *Transaction) Terminal() bool {
	return t.Status.Terminal()
}

// Clone returns a deep copy. The messages slice gets its own backing array so
// an append on the copy cannot mutate the stored transaction.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.Messages != nil {
		cp.Messages = make([]Message, len(t.Messages))
		copy(cp.Messages, t.Messages)
	}
	if t.ShippedAt != nil {
		at := *t.ShippedAt
		cp.ShippedAt = &at
	}
	if t.DeliveredAt != nil {
		at := *t.DeliveredAt
		cp.DeliveredAt = &at
	}
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}

// Role is a user's relationship to a transaction.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleViewer Role = "viewer"
)

// RoleOf derives a user's role by identity comparison. Roles are never
// reassigned; a transaction has at most one buyer and one seller.
func RoleOf(t *Transaction, userID string) Role {
	switch {
	case userID != "" && userID == t.BuyerID:
		return RoleBuyer
	case userID != "" && userID == t.SellerID:
		return RoleSeller
	default:
		return RoleViewer
	}
}
