// Package ledger owns instruments and the append-only transaction ledger.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/degiro-portfolio/internal/database"
	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Repository handles instrument and transaction persistence in portfolio.db.
// Transactions are never updated once written.
type Repository struct {
	conn *sql.DB          // for starting transactions
	q    database.Querier // conn, or the active transaction
	log  zerolog.Logger
}

// NewRepository creates a new ledger repository
func NewRepository(conn *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		conn: conn,
		q:    conn,
		log:  log.With().Str("repo", "ledger").Logger(),
	}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *sql.Tx) *Repository {
	return &Repository{conn: r.conn, q: tx, log: r.log}
}

// InTx runs fn with a repository bound to a new transaction, committing when
// fn succeeds.
func (r *Repository) InTx(ctx context.Context, fn func(*Repository) error) error {
	return database.WithTransactionContext(ctx, r.conn, func(tx *sql.Tx) error {
		return fn(r.WithTx(tx))
	})
}

const instrumentColumns = `id, isin, symbol, name, exchange, currency, market_symbol, data_provider, created_at`

// GetInstrument returns an instrument by id
func (r *Repository) GetInstrument(ctx context.Context, id int64) (*domain.Instrument, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+instrumentColumns+` FROM instruments WHERE id = ?`, id)
	inst, err := scanInstrument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument %d: %w", id, ErrInstrumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %d: %w", id, err)
	}
	return inst, nil
}

// GetInstrumentByISIN returns an instrument by ISIN
func (r *Repository) GetInstrumentByISIN(ctx context.Context, isin string) (*domain.Instrument, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+instrumentColumns+` FROM instruments WHERE isin = ?`, isin)
	inst, err := scanInstrument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instrument %s: %w", isin, ErrInstrumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", isin, err)
	}
	return inst, nil
}

// ListInstruments returns all instruments ordered by name
func (r *Repository) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+instrumentColumns+` FROM instruments ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		out = append(out, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instruments: %w", err)
	}
	return out, nil
}

// CreateInstrument inserts inst and sets its ID and CreatedAt
func (r *Repository) CreateInstrument(ctx context.Context, inst *domain.Instrument) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	if inst.Currency == "" {
		inst.Currency = domain.CurrencyEUR
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT INTO instruments (isin, symbol, name, exchange, currency, market_symbol, data_provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ISIN, inst.Symbol, inst.Name, inst.Exchange, string(inst.Currency),
		nullIfEmpty(inst.MarketSymbol), nullIfEmpty(inst.DataProvider), inst.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create instrument %s: %w", inst.ISIN, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get instrument id: %w", err)
	}
	inst.ID = id
	return nil
}

// UpdateMarketSymbol back-fills the resolved market-data symbol
func (r *Repository) UpdateMarketSymbol(ctx context.Context, id int64, symbol, provider string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE instruments SET market_symbol = ?, data_provider = ? WHERE id = ?`,
		nullIfEmpty(symbol), nullIfEmpty(provider), id)
	if err != nil {
		return fmt.Errorf("failed to update market symbol for instrument %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("instrument %d: %w", id, ErrInstrumentNotFound)
	}
	return nil
}

const transactionColumns = `id, instrument_id, executed_at, quantity, price, currency, value_eur, total_eur,
	venue, exchange_rate, fees_eur, order_id, import_id`

// ListTransactions returns the full ledger ordered by execution time, then id
func (r *Repository) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY executed_at, id`)
}

// ListTransactionsFor returns one instrument's fills ordered by execution time, then id
func (r *Repository) ListTransactionsFor(ctx context.Context, instrumentID int64) ([]domain.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE instrument_id = ? ORDER BY executed_at, id`,
		instrumentID)
}

func (r *Repository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var executedAt int64
		var currency string
		var rate, fees sql.NullFloat64
		if err := rows.Scan(&tx.ID, &tx.InstrumentID, &executedAt, &tx.Quantity, &tx.Price, &currency,
			&tx.ValueEUR, &tx.TotalEUR, &tx.Venue, &rate, &fees, &tx.OrderID, &tx.ImportID); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ExecutedAt = time.Unix(executedAt, 0).UTC()
		tx.Currency = domain.Currency(currency)
		if rate.Valid {
			tx.ExchangeRate = &rate.Float64
		}
		if fees.Valid {
			tx.FeesEUR = &fees.Float64
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

// InsertTransaction appends a fill and sets its ID
func (r *Repository) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (instrument_id, executed_at, time_text, quantity, price, currency,
			value_eur, total_eur, venue, exchange_rate, fees_eur, order_id, import_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.InstrumentID, tx.ExecutedAt.Unix(), tx.ExecutedAt.Format("15:04"), tx.Quantity, tx.Price,
		string(tx.Currency), tx.ValueEUR, tx.TotalEUR, tx.Venue, nullIfNil(tx.ExchangeRate),
		nullIfNil(tx.FeesEUR), tx.OrderID, tx.ImportID)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transaction id: %w", err)
	}
	tx.ID = id
	return nil
}

// TransactionExists reports whether a fill with the same instrument,
// timestamp, quantity and price is already recorded.
func (r *Repository) TransactionExists(ctx context.Context, instrumentID int64, executedAt time.Time, quantity int64, price float64) (bool, error) {
	var one int
	err := r.q.QueryRowContext(ctx, `
		SELECT 1 FROM transactions
		WHERE instrument_id = ? AND executed_at = ? AND quantity = ? AND price = ?
		LIMIT 1
	`, instrumentID, executedAt.Unix(), quantity, price).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check transaction existence: %w", err)
	}
	return true, nil
}

// HoldingSummary is the net quantity and fill count of one instrument.
type HoldingSummary struct {
	InstrumentID int64
	Quantity     int64
	Transactions int
}

// Holdings sums quantity per instrument over the full ledger
func (r *Repository) Holdings(ctx context.Context) (map[int64]HoldingSummary, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT instrument_id, SUM(quantity), COUNT(*)
		FROM transactions
		GROUP BY instrument_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]HoldingSummary)
	for rows.Next() {
		var h HoldingSummary
		if err := rows.Scan(&h.InstrumentID, &h.Quantity, &h.Transactions); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out[h.InstrumentID] = h
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return out, nil
}

// HeldInstruments returns instruments with a positive net quantity, by name
func (r *Repository) HeldInstruments(ctx context.Context) ([]domain.Instrument, error) {
	holdings, err := r.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	all, err := r.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}

	var held []domain.Instrument
	for _, inst := range all {
		if holdings[inst.ID].Quantity > 0 {
			held = append(held, inst)
		}
	}
	return held, nil
}

// PurgeCounts reports how many rows a purge removed per table.
type PurgeCounts struct {
	Stocks       int64 `json:"stocks"`
	Transactions int64 `json:"transactions"`
	StockPrices  int64 `json:"stock_prices"`
	Indices      int64 `json:"indices"`
	IndexPrices  int64 `json:"index_prices"`
}

// Purge deletes every instrument, transaction, price and index atomically.
// The exchange-rate cache is kept.
func (r *Repository) Purge(ctx context.Context) (PurgeCounts, error) {
	var counts PurgeCounts
	steps := []struct {
		table string
		dst   *int64
	}{
		{"transactions", &counts.Transactions},
		{"stock_prices", &counts.StockPrices},
		{"index_prices", &counts.IndexPrices},
		{"indices", &counts.Indices},
		{"instruments", &counts.Stocks},
	}

	err := r.InTx(ctx, func(repo *Repository) error {
		for _, step := range steps {
			res, err := repo.q.ExecContext(ctx, "DELETE FROM "+step.table)
			if err != nil {
				return fmt.Errorf("failed to purge %s: %w", step.table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to count purged %s: %w", step.table, err)
			}
			*step.dst = n
		}
		return nil
	})
	if err != nil {
		return PurgeCounts{}, err
	}

	r.log.Warn().
		Int64("stocks", counts.Stocks).
		Int64("transactions", counts.Transactions).
		Int64("stock_prices", counts.StockPrices).
		Msg("Portfolio database purged")
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (*domain.Instrument, error) {
	var inst domain.Instrument
	var currency string
	var marketSymbol, provider sql.NullString
	var createdAt int64
	if err := row.Scan(&inst.ID, &inst.ISIN, &inst.Symbol, &inst.Name, &inst.Exchange, &currency,
		&marketSymbol, &provider, &createdAt); err != nil {
		return nil, err
	}
	inst.Currency = domain.Currency(currency)
	inst.MarketSymbol = marketSymbol.String
	inst.DataProvider = provider.String
	inst.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &inst, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNil(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
