package escrow

import "context"

// Store persists escrow transactions. Implementations must be safe for
// concurrent use; the Service serializes mutations per transaction code on
// top of whatever the store guarantees.
type Store interface {
	Create(ctx context.Context, t *Transaction) error
	Get(ctx context.Context, code string) (*Transaction, error)
	Update(ctx context.Context, t *Transaction) error
	// List returns every transaction, newest first by CreatedAt.
	List(ctx context.Context) ([]*Transaction, error)
}

// DirtyStore is implemented by stores that apply mutations optimistically in
// memory and may be left with an unflushed durable write. Callers can detect
// the condition via Dirty and retry with Flush instead of losing data.
type DirtyStore interface {
	Dirty() bool
	Flush(ctx context.Context) error
}
