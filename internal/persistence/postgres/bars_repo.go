package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/marketfeed/internal/persistence"
)

// barsRepo implements persistence.BarsRepo for PostgreSQL.
type barsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBarsRepo creates a PostgreSQL-backed OHLCV bar repository.
func NewBarsRepo(db *sqlx.DB, timeout time.Duration) persistence.BarsRepo {
	return &barsRepo{db: db, timeout: timeout}
}

// Insert upserts a single bar, deduplicating on (symbol, timeframe, ts) via
// ON CONFLICT DO NOTHING: a bar already on record from an earlier collection
// run is never overwritten by a later, possibly-revised provider response.
func (r *barsRepo) Insert(ctx context.Context, bar persistence.PriceBar) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO price_bars (symbol, timeframe, ts, open, high, low, close, volume, adjusted_close, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, timeframe, ts) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		bar.Symbol, bar.Timeframe, bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close,
		bar.Volume, bar.AdjustedClose, bar.Provider)
	if err != nil {
		return fmt.Errorf("failed to insert bar: %w", err)
	}
	return nil
}

func (r *barsRepo) InsertBatch(ctx context.Context, bars []persistence.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(bars)/200+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_bars (symbol, timeframe, ts, open, high, low, close, volume, adjusted_close, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, timeframe, ts) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx,
			bar.Symbol, bar.Timeframe, bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close,
			bar.Volume, bar.AdjustedClose, bar.Provider); err != nil {
			return fmt.Errorf("failed to insert bar in batch: %w", err)
		}
	}
	return tx.Commit()
}

func (r *barsRepo) ListBySymbol(ctx context.Context, symbol, timeframe string, tr persistence.TimeRange) ([]persistence.PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, adjusted_close, provider, created_at
		FROM price_bars
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, symbol, timeframe, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()
	return scanBarRows(rows)
}

func (r *barsRepo) ListTimestamps(ctx context.Context, symbol, timeframe string, tr persistence.TimeRange) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ts FROM price_bars
		WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, symbol, timeframe, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query bar timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (r *barsRepo) Latest(ctx context.Context, symbol, timeframe string) (*persistence.PriceBar, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT symbol, timeframe, ts, open, high, low, close, volume, adjusted_close, provider, created_at
		FROM price_bars
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY ts DESC LIMIT 1`

	var bar persistence.PriceBar
	err := r.db.QueryRowxContext(ctx, query, symbol, timeframe).Scan(
		&bar.Symbol, &bar.Timeframe, &bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close,
		&bar.Volume, &bar.AdjustedClose, &bar.Provider, &bar.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest bar: %w", err)
	}
	return &bar, nil
}

func (r *barsRepo) Count(ctx context.Context, symbol, timeframe string, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	query := `SELECT COUNT(*) FROM price_bars WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4`
	if err := r.db.QueryRowxContext(ctx, query, symbol, timeframe, tr.From, tr.To).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count bars: %w", err)
	}
	return count, nil
}

func scanBarRows(rows *sqlx.Rows) ([]persistence.PriceBar, error) {
	var bars []persistence.PriceBar
	for rows.Next() {
		var b persistence.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Timeframe, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close,
			&b.Volume, &b.AdjustedClose, &b.Provider, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bar rows: %w", err)
	}
	return bars, nil
}
