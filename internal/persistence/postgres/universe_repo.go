package postgres

import (
	"database/sql"
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/marketfeed/internal/persistence"
)

// universeRepo implements persistence.UniverseRepo for PostgreSQL.
type universeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUniverseRepo creates a PostgreSQL-backed universe repository.
func NewUniverseRepo(db *sqlx.DB, timeout time.Duration) persistence.UniverseRepo {
	return &universeRepo{db: db, timeout: timeout}
}

func (r *universeRepo) Upsert(ctx context.Context, entry persistence.MarketUniverseEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO market_universe (symbol, market_kind, exchange, currency, active, consecutive_failures)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (symbol) DO UPDATE SET
			market_kind = EXCLUDED.market_kind,
			exchange    = EXCLUDED.exchange,
			currency    = EXCLUDED.currency,
			active      = EXCLUDED.active`

	_, err := r.db.ExecContext(ctx, query, entry.Symbol, entry.MarketKind, entry.Exchange, entry.Currency, entry.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert universe entry: %w", err)
	}
	return nil
}

func (r *universeRepo) Get(ctx context.Context, symbol string) (*persistence.MarketUniverseEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var entry persistence.MarketUniverseEntry
	query := `
		SELECT symbol, market_kind, exchange, currency, active, last_quote_update, last_eod_update, consecutive_failures, last_error, created_at
		FROM market_universe WHERE symbol = $1`

	err := r.db.QueryRowxContext(ctx, query, symbol).Scan(
		&entry.Symbol, &entry.MarketKind, &entry.Exchange, &entry.Currency,
		&entry.Active, &entry.LastQuoteUpdate, &entry.LastEODUpdate,
		&entry.ConsecutiveFailures, &entry.LastError, &entry.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get universe entry: %w", err)
	}
	return &entry, nil
}

func (r *universeRepo) ListActive(ctx context.Context, marketKind string) ([]persistence.MarketUniverseEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, market_kind, exchange, currency, active, last_quote_update, last_eod_update, consecutive_failures, last_error, created_at
		FROM market_universe
		WHERE active = true AND ($1 = '' OR market_kind = $1)
		ORDER BY symbol`

	rows, err := r.db.QueryxContext(ctx, query, marketKind)
	if err != nil {
		return nil, fmt.Errorf("failed to list active universe entries: %w", err)
	}
	defer rows.Close()
	return scanUniverseRows(rows)
}

// ListStaleQuotes orders active symbols by last_quote_update ascending, with
// never-refreshed symbols (NULL) returned first.
func (r *universeRepo) ListStaleQuotes(ctx context.Context, limit int) ([]persistence.MarketUniverseEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, market_kind, exchange, currency, active, last_quote_update, last_eod_update, consecutive_failures, last_error, created_at
		FROM market_universe
		WHERE active = true
		ORDER BY last_quote_update ASC NULLS FIRST
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale quote symbols: %w", err)
	}
	defer rows.Close()
	return scanUniverseRows(rows)
}

func (r *universeRepo) MarkQuoteUpdated(ctx context.Context, symbol string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE market_universe SET last_quote_update = $1 WHERE symbol = $2`, at, symbol)
	if err != nil {
		return fmt.Errorf("failed to mark quote updated: %w", err)
	}
	return nil
}

func (r *universeRepo) MarkEODUpdated(ctx context.Context, symbol string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE market_universe SET last_eod_update = $1 WHERE symbol = $2`, at, symbol)
	if err != nil {
		return fmt.Errorf("failed to mark EOD updated: %w", err)
	}
	return nil
}

func (r *universeRepo) ListStaleEOD(ctx context.Context, olderThan time.Duration) ([]persistence.MarketUniverseEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := time.Now().Add(-olderThan)
	query := `
		SELECT symbol, market_kind, exchange, currency, active, last_quote_update, last_eod_update, consecutive_failures, last_error, created_at
		FROM market_universe
		WHERE active = true AND (last_eod_update IS NULL OR last_eod_update < $1)
		ORDER BY last_eod_update ASC NULLS FIRST`

	rows, err := r.db.QueryxContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale EOD symbols: %w", err)
	}
	defer rows.Close()
	return scanUniverseRows(rows)
}

func scanUniverseRows(rows *sqlx.Rows) ([]persistence.MarketUniverseEntry, error) {
	var entries []persistence.MarketUniverseEntry
	for rows.Next() {
		var e persistence.MarketUniverseEntry
		if err := rows.Scan(&e.Symbol, &e.MarketKind, &e.Exchange, &e.Currency,
			&e.Active, &e.LastQuoteUpdate, &e.LastEODUpdate,
			&e.ConsecutiveFailures, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan universe entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating universe rows: %w", err)
	}
	return entries, nil
}

// RecordFailure increments the consecutive-failure counter and stores the
// triggering error message.
func (r *universeRepo) RecordFailure(ctx context.Context, symbol string, errMsg string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE market_universe SET consecutive_failures = consecutive_failures + 1, last_error = $1 WHERE symbol = $2`,
		errMsg, symbol)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// RecordSuccess resets the consecutive-failure counter.
func (r *universeRepo) RecordSuccess(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE market_universe SET consecutive_failures = 0, last_error = '' WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}
	return nil
}
