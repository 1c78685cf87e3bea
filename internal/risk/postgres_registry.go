package risk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/safepay/internal/metrics"
)

// PostgresRegistry persists the reason log in the address_reports table.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a PostgreSQL-backed registry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) IsReported(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM address_reports WHERE address = $1)`,
		normalizeAddress(address),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reported address: %w", err)
	}
	return exists, nil
}

func (r *PostgresRegistry) Report(ctx context.Context, address, reason string) (*Report, error) {
	address = normalizeAddress(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	if len(reason) > MaxReasonLength {
		return nil, ErrInvalidReason
	}

	rep := &Report{Address: address, Reason: reason}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO address_reports (address, reason, reported_at)
		VALUES ($1, $2, $3)
		RETURNING reported_at
	`, address, reason, time.Now().UTC()).Scan(&rep.ReportedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record address report: %w", err)
	}

	metrics.AddressReportsTotal.Inc()
	return rep, nil
}

func (r *PostgresRegistry) ListReports(ctx context.Context, address string) ([]*Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, reason, reported_at
		FROM address_reports
		WHERE address = $1
		ORDER BY id ASC
	`, normalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to list address reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Report
	for rows.Next() {
		rep := &Report{}
		if err := rows.Scan(&rep.Address, &rep.Reason, &rep.ReportedAt); err != nil {
			return nil, fmt.Errorf("failed to scan address report: %w", err)
		}
		rep.ReportedAt = rep.ReportedAt.UTC()
		result = append(result, rep)
	}
	return result, rows.Err()
}

var _ Registry = (*PostgresRegistry)(nil)
