package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/marketfeed/internal/persistence"
)

// fxRepo implements persistence.FXRepo for PostgreSQL.
type fxRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewFXRepo creates a PostgreSQL-backed exchange-rate repository.
func NewFXRepo(db *sqlx.DB, timeout time.Duration) persistence.FXRepo {
	return &fxRepo{db: db, timeout: timeout}
}

// Upsert replaces the stored rate for a (base, quote) pair: unlike bars,
// exchange rates are mutable point-in-time facts, so a newer observation
// always overwrites the one on record.
func (r *fxRepo) Upsert(ctx context.Context, rate persistence.ExchangeRate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO exchange_rates (base_currency, quote_currency, rate, as_of, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (base_currency, quote_currency) DO UPDATE SET
			rate       = EXCLUDED.rate,
			as_of      = EXCLUDED.as_of,
			updated_at = now()`

	if _, err := r.db.ExecContext(ctx, query, rate.BaseCurrency, rate.QuoteCurrency, rate.Rate, rate.AsOf); err != nil {
		return fmt.Errorf("failed to upsert exchange rate: %w", err)
	}
	return nil
}

func (r *fxRepo) UpsertBatch(ctx context.Context, rates []persistence.ExchangeRate) error {
	if len(rates) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exchange_rates (base_currency, quote_currency, rate, as_of, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (base_currency, quote_currency) DO UPDATE SET
			rate       = EXCLUDED.rate,
			as_of      = EXCLUDED.as_of,
			updated_at = now()`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rate := range rates {
		if _, err := stmt.ExecContext(ctx, rate.BaseCurrency, rate.QuoteCurrency, rate.Rate, rate.AsOf); err != nil {
			return fmt.Errorf("failed to upsert exchange rate in batch: %w", err)
		}
	}
	return tx.Commit()
}

func (r *fxRepo) Get(ctx context.Context, base, quote string) (*persistence.ExchangeRate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rate persistence.ExchangeRate
	query := `SELECT base_currency, quote_currency, rate, as_of, updated_at FROM exchange_rates WHERE base_currency = $1 AND quote_currency = $2`
	err := r.db.QueryRowxContext(ctx, query, base, quote).Scan(
		&rate.BaseCurrency, &rate.QuoteCurrency, &rate.Rate, &rate.AsOf, &rate.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get exchange rate: %w", err)
	}
	return &rate, nil
}

func (r *fxRepo) ListAll(ctx context.Context) ([]persistence.ExchangeRate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT base_currency, quote_currency, rate, as_of, updated_at FROM exchange_rates ORDER BY base_currency, quote_currency`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	defer rows.Close()

	var rates []persistence.ExchangeRate
	for rows.Next() {
		var rate persistence.ExchangeRate
		if err := rows.Scan(&rate.BaseCurrency, &rate.QuoteCurrency, &rate.Rate, &rate.AsOf, &rate.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchange rate rows: %w", err)
	}
	return rates, nil
}
