package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrow data in PostgreSQL. Mutate holds a row lock
// for the duration of the callback, so concurrent transitions on one escrow
// queue behind each other across processes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, buyer, seller, arbiter, amount, memo,
			buyer_approved, seller_approved, dispute_raised, funds_released,
			status, contract_address, transaction_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Buyer, e.Seller, nullString(e.Arbiter), e.Amount, e.Memo,
		e.BuyerApproved, e.SellerApproved, e.DisputeRaised, e.FundsReleased,
		string(e.Status), e.ContractAddress, e.TransactionHash, e.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrEscrowExists
	}
	return err
}

const escrowColumns = `id, buyer, seller, arbiter, amount, memo,
		       buyer_approved, seller_approved, dispute_raised, funds_released,
		       status, contract_address, transaction_hash,
		       dispute_raised_by, resolved_by, resolved_in_favor_of,
		       created_at, released_at, dispute_raised_at, cancelled_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	return e, err
}

func (p *PostgresStore) Mutate(ctx context.Context, id string, fn func(*Escrow) error) (*Escrow, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEscrow(tx.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := fn(e); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escrows SET
			buyer_approved = $1, seller_approved = $2, dispute_raised = $3, funds_released = $4,
			status = $5, dispute_raised_by = $6, resolved_by = $7, resolved_in_favor_of = $8,
			released_at = $9, dispute_raised_at = $10, cancelled_at = $11
		WHERE id = $12`,
		e.BuyerApproved, e.SellerApproved, e.DisputeRaised, e.FundsReleased,
		string(e.Status), nullString(e.DisputeRaisedBy), nullString(e.ResolvedBy), nullString(string(e.ResolvedInFavorOf)),
		nullTime(e.ReleasedAt), nullTime(e.DisputeRaisedAt), nullTime(e.CancelledAt),
		e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update escrow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit escrow: %w", err)
	}
	return e, nil
}

func (p *PostgresStore) ListByParty(ctx context.Context, role Role, addr string) ([]*Escrow, error) {
	var column string
	switch role {
	case RoleBuyer:
		column = "buyer"
	case RoleSeller:
		column = "seller"
	case RoleArbiter:
		column = "arbiter"
	default:
		return nil, ErrInvalidRole
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE `+column+` = $1
		ORDER BY seq ASC`, addr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

func (p *PostgresStore) ListPending(ctx context.Context, buyer string) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE buyer = $1 AND NOT funds_released AND NOT buyer_approved
		ORDER BY seq ASC`, buyer)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEscrows(rows)
}

// Ping checks database connectivity for health probes.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		arbiter           sql.NullString
		status            string
		disputeRaisedBy   sql.NullString
		resolvedBy        sql.NullString
		resolvedInFavorOf sql.NullString
		releasedAt        sql.NullTime
		disputeRaisedAt   sql.NullTime
		cancelledAt       sql.NullTime
	)

	err := s.Scan(
		&e.ID, &e.Buyer, &e.Seller, &arbiter, &e.Amount, &e.Memo,
		&e.BuyerApproved, &e.SellerApproved, &e.DisputeRaised, &e.FundsReleased,
		&status, &e.ContractAddress, &e.TransactionHash,
		&disputeRaisedBy, &resolvedBy, &resolvedInFavorOf,
		&e.CreatedAt, &releasedAt, &disputeRaisedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	e.Arbiter = arbiter.String
	e.Status = Status(status)
	e.DisputeRaisedBy = disputeRaisedBy.String
	e.ResolvedBy = resolvedBy.String
	e.ResolvedInFavorOf = Role(resolvedInFavorOf.String)
	e.ReleasedAt = timePtr(releasedAt)
	e.DisputeRaisedAt = timePtr(disputeRaisedAt)
	e.CancelledAt = timePtr(cancelledAt)
	return e, nil
}

func scanEscrows(rows *sql.Rows) ([]*Escrow, error) {
	result := make([]*Escrow, 0)
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
