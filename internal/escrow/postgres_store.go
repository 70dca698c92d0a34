package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// PostgresStore persists escrow transactions one row per record, so a
// mutation costs O(1) instead of rewriting the whole collection.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `code, product_ref, title, buyer_id, seller_id, status, tracking,
	       dispute_reason, resolution, created_at, dispute_deadline,
	       shipped_at, delivered_at, resolved_at, updated_at, messages`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	messagesJSON, _ := json.Marshal(t.Messages)
	if t.Messages == nil {
		messagesJSON = []byte("[]")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_transactions (
			code, product_ref, title, buyer_id, seller_id, status, tracking,
			dispute_reason, resolution, created_at, dispute_deadline,
			shipped_at, delivered_at, resolved_at, updated_at, messages
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		t.Code, t.ProductRef, t.Title, nullString(t.BuyerID), nullString(t.SellerID),
		string(t.Status), nullString(t.Tracking),
		nullString(t.DisputeReason), nullString(t.Resolution),
		t.CreatedAt, t.DisputeDeadline,
		nullTime(t.ShippedAt), nullTime(t.DeliveredAt), nullTime(t.ResolvedAt),
		t.UpdatedAt, messagesJSON,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, code string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM escrow_transactions WHERE code = $1`, code)

	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	messagesJSON, _ := json.Marshal(t.Messages)
	if t.Messages == nil {
		messagesJSON = []byte("[]")
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_transactions SET
			buyer_id = $1, seller_id = $2, status = $3, tracking = $4,
			dispute_reason = $5, resolution = $6,
			shipped_at = $7, delivered_at = $8, resolved_at = $9,
			updated_at = $10, messages = $11
		WHERE code = $12`,
		nullString(t.BuyerID), nullString(t.SellerID), string(t.Status), nullString(t.Tracking),
		nullString(t.DisputeReason), nullString(t.Resolution),
		nullTime(t.ShippedAt), nullTime(t.DeliveredAt), nullTime(t.ResolvedAt),
		t.UpdatedAt, messagesJSON,
		t.Code,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+`
		FROM escrow_transactions
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(s scanner) (*Transaction, error) {
	var (
		t             Transaction
		buyerID       sql.NullString
		sellerID      sql.NullString
		status        string
		tracking      sql.NullString
		disputeReason sql.NullString
		resolution    sql.NullString
		shippedAt     sql.NullTime
		deliveredAt   sql.NullTime
		resolvedAt    sql.NullTime
		messagesJSON  []byte
	)

	err := s.Scan(
		&t.Code, &t.ProductRef, &t.Title, &buyerID, &sellerID, &status, &tracking,
		&disputeReason, &resolution, &t.CreatedAt, &t.DisputeDeadline,
		&shippedAt, &deliveredAt, &resolvedAt, &t.UpdatedAt, &messagesJSON,
	)
	if err != nil {
		return nil, err
	}

	t.BuyerID = buyerID.String
	t.SellerID = sellerID.String
	t.Status = Status(status)
	t.Tracking = tracking.String
	t.DisputeReason = disputeReason.String
	t.Resolution = resolution.String
	if shippedAt.Valid {
		at := shippedAt.Time
		t.ShippedAt = &at
	}
	if deliveredAt.Valid {
		at := deliveredAt.Time
		t.DeliveredAt = &at
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		t.ResolvedAt = &at
	}

	t.Messages = []Message{}
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, &t.Messages); err != nil {
			return nil, err
		}
	}

	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
