package gateway

import (
	"context"
	"database/sql"
)

// PostgresStore persists the payment log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, sender, receiver, amount, transaction_hash,
			bypassed, reported, above_threshold, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pay.ID, pay.From, pay.To, pay.Amount, pay.TxHash,
		pay.Bypassed, pay.Reported, pay.AboveThreshold, pay.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListBySender(ctx context.Context, addr string, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, sender, receiver, amount, transaction_hash,
		       bypassed, reported, above_threshold, created_at
		FROM payments
		WHERE sender = $1
		ORDER BY seq DESC
		LIMIT $2`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Payment, 0)
	for rows.Next() {
		pay := &Payment{}
		if err := rows.Scan(
			&pay.ID, &pay.From, &pay.To, &pay.Amount, &pay.TxHash,
			&pay.Bypassed, &pay.Reported, &pay.AboveThreshold, &pay.CreatedAt,
		); err != nil {
			return nil, err
		}
		pay.CreatedAt = pay.CreatedAt.UTC()
		result = append(result, pay)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
