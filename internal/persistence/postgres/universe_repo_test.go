package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketfeed/internal/persistence"
	"github.com/sawpanic/marketfeed/internal/persistence/postgres"
)

func newMockUniverseRepo(t *testing.T) (persistence.UniverseRepo, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "postgres")
	repo := postgres.NewUniverseRepo(db, 5*time.Second)
	return repo, mock, func() { mockDB.Close() }
}

func TestUniverseRepo_Upsert(t *testing.T) {
	repo, mock, closeFn := newMockUniverseRepo(t)
	defer closeFn()

	mock.ExpectExec("INSERT INTO market_universe").
		WithArgs("AAPL", "us_stock", "NASDAQ", "USD", true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Upsert(context.Background(), persistence.MarketUniverseEntry{
		Symbol: "AAPL", MarketKind: "us_stock", Exchange: "NASDAQ", Currency: "USD", Active: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUniverseRepo_RecordFailureAndSuccess(t *testing.T) {
	repo, mock, closeFn := newMockUniverseRepo(t)
	defer closeFn()

	mock.ExpectExec("UPDATE market_universe SET consecutive_failures = consecutive_failures \\+ 1").
		WithArgs("rate limited", "AAPL").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE market_universe SET consecutive_failures = 0").
		WithArgs("AAPL").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordFailure(context.Background(), "AAPL", "rate limited"))
	require.NoError(t, repo.RecordSuccess(context.Background(), "AAPL"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUniverseRepo_ListStaleQuotes(t *testing.T) {
	repo, mock, closeFn := newMockUniverseRepo(t)
	defer closeFn()

	rows := sqlmock.NewRows([]string{
		"symbol", "market_kind", "exchange", "currency", "active",
		"last_quote_update", "last_eod_update", "consecutive_failures", "last_error", "created_at",
	}).AddRow("AAPL", "us_stock", "NASDAQ", "USD", true, nil, nil, 0, "", time.Now())

	mock.ExpectQuery("SELECT symbol, market_kind, exchange, currency, active").
		WithArgs(10).
		WillReturnRows(rows)

	entries, err := repo.ListStaleQuotes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "AAPL", entries[0].Symbol)
	require.NoError(t, mock.ExpectationsWereMet())
}
