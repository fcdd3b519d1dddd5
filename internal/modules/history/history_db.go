// Package history stores daily price history for instruments and benchmark
// indices, and the exchange-rate cache.
package history

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

// ErrNotToday is returned when an upsert targets a day other than today.
// Closed days are only ever added, never rewritten.
var ErrNotToday = errors.New("only today's price row can be replaced")

// HistoryDB provides access to historical price data
type HistoryDB struct {
	q   database.Querier
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(q database.Querier, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		q:   q,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// WithTx returns an accessor that reads and writes through tx.
func (h *HistoryDB) WithTx(tx *sql.Tx) *HistoryDB {
	return &HistoryDB{q: tx, log: h.log}
}

// LatestPrice is the most recent close of an instrument with the close
// before it, for day-change reporting.
type LatestPrice struct {
	Date          time.Time
	Currency      domain.Currency
	Provider      string
	InstrumentID  int64
	Close         float64
	PreviousClose *float64
}

// ChangePct returns the percentage change against the previous close.
func (l LatestPrice) ChangePct() *float64 {
	if l.PreviousClose == nil || *l.PreviousClose == 0 {
		return nil
	}
	pct := (l.Close - *l.PreviousClose) / *l.PreviousClose * 100
	return &pct
}

const priceColumns = `instrument_id, date, open, high, low, close, volume, currency, provider`

// ListPrices returns an instrument's daily prices ascending by date.
// from is inclusive when set.
func (h *HistoryDB) ListPrices(ctx context.Context, instrumentID int64, from *time.Time) ([]domain.PricePoint, error) {
	query := `SELECT ` + priceColumns + ` FROM stock_prices WHERE instrument_id = ?`
	args := []any{instrumentID}
	if from != nil {
		query += ` AND date >= ?`
		args = append(args, domain.Day(*from).Unix())
	}
	query += ` ORDER BY date`

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices, err := scanPrices(rows)
	if err != nil {
		return nil, err
	}
	return prices, nil
}

// AllPrices returns every stored price grouped by instrument, ascending by date.
func (h *HistoryDB) AllPrices(ctx context.Context) (map[int64][]domain.PricePoint, error) {
	rows, err := h.q.QueryContext(ctx, `SELECT `+priceColumns+` FROM stock_prices ORDER BY instrument_id, date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	prices, err := scanPrices(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]domain.PricePoint)
	for _, p := range prices {
		out[p.InstrumentID] = append(out[p.InstrumentID], p)
	}
	return out, nil
}

func scanPrices(rows *sql.Rows) ([]domain.PricePoint, error) {
	var prices []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		var dateUnix int64
		var currency string
		if err := rows.Scan(&p.InstrumentID, &dateUnix, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &currency, &p.Provider); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC()
		p.Currency = domain.Currency(currency)
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}
	return prices, nil
}

// LatestPrices returns the latest close and the close before it for every
// instrument that has prices.
func (h *HistoryDB) LatestPrices(ctx context.Context) (map[int64]LatestPrice, error) {
	query := `
		SELECT instrument_id, date, close, currency, provider
		FROM (
			SELECT instrument_id, date, close, currency, provider,
				ROW_NUMBER() OVER (PARTITION BY instrument_id ORDER BY date DESC) AS rn
			FROM stock_prices
		)
		WHERE rn <= 2
		ORDER BY instrument_id, date DESC
	`

	rows, err := h.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest prices: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]LatestPrice)
	for rows.Next() {
		var id, dateUnix int64
		var closePrice float64
		var currency, provider string
		if err := rows.Scan(&id, &dateUnix, &closePrice, &currency, &provider); err != nil {
			return nil, fmt.Errorf("failed to scan latest price: %w", err)
		}

		latest, seen := out[id]
		if seen {
			prev := closePrice
			latest.PreviousClose = &prev
			out[id] = latest
			continue
		}
		out[id] = LatestPrice{
			InstrumentID: id,
			Date:         time.Unix(dateUnix, 0).UTC(),
			Close:        closePrice,
			Currency:     domain.Currency(currency),
			Provider:     provider,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest prices: %w", err)
	}
	return out, nil
}

// InsertPricesIfMissing stores points for days that have no row yet and
// returns how many were inserted. Existing rows are never overwritten.
func (h *HistoryDB) InsertPricesIfMissing(ctx context.Context, instrumentID int64, points []domain.PricePoint) (int, error) {
	inserted := 0
	for _, p := range points {
		res, err := h.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO stock_prices (`+priceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, instrumentID, domain.Day(p.Date).Unix(), p.Open, p.High, p.Low, p.Close, p.Volume, string(p.Currency), p.Provider)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert price for %s: %w", domain.FormatDate(p.Date), err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// UpsertPrice writes today's row, replacing it if it exists. Used for
// intraday quotes, which refine today's row as the session moves. Any other
// day is rejected with ErrNotToday.
func (h *HistoryDB) UpsertPrice(ctx context.Context, p domain.PricePoint, today time.Time) error {
	if !domain.Day(p.Date).Equal(domain.Day(today)) {
		return fmt.Errorf("%w: got %s, today is %s", ErrNotToday, domain.FormatDate(p.Date), domain.FormatDate(today))
	}
	_, err := h.q.ExecContext(ctx, `
		INSERT INTO stock_prices (`+priceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			currency = excluded.currency,
			provider = excluded.provider
	`, p.InstrumentID, domain.Day(p.Date).Unix(), p.Open, p.High, p.Low, p.Close, p.Volume, string(p.Currency), p.Provider)
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", err)
	}
	return nil
}

// CountPrices returns the number of stored days for an instrument
func (h *HistoryDB) CountPrices(ctx context.Context, instrumentID int64) (int, error) {
	var n int
	err := h.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_prices WHERE instrument_id = ?`, instrumentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count prices: %w", err)
	}
	return n, nil
}

// LatestPriceDate returns the most recent price date across all instruments,
// or nil when no prices are stored.
func (h *HistoryDB) LatestPriceDate(ctx context.Context) (*time.Time, error) {
	var dateUnix sql.NullInt64
	if err := h.q.QueryRowContext(ctx, `SELECT MAX(date) FROM stock_prices`).Scan(&dateUnix); err != nil {
		return nil, fmt.Errorf("failed to get latest price date: %w", err)
	}
	if !dateUnix.Valid {
		return nil, nil
	}
	t := time.Unix(dateUnix.Int64, 0).UTC()
	return &t, nil
}

// EnsureIndex returns the index with symbol, creating it when absent.
// created reports whether a row was inserted.
func (h *HistoryDB) EnsureIndex(ctx context.Context, symbol, name string) (idx domain.Index, created bool, err error) {
	res, err := h.q.ExecContext(ctx, `INSERT OR IGNORE INTO indices (symbol, name) VALUES (?, ?)`, symbol, name)
	if err != nil {
		return domain.Index{}, false, fmt.Errorf("failed to insert index %s: %w", symbol, err)
	}
	n, _ := res.RowsAffected()

	err = h.q.QueryRowContext(ctx, `SELECT id, symbol, name FROM indices WHERE symbol = ?`, symbol).
		Scan(&idx.ID, &idx.Symbol, &idx.Name)
	if err != nil {
		return domain.Index{}, false, fmt.Errorf("failed to get index %s: %w", symbol, err)
	}
	return idx, n > 0, nil
}

// ListIndices returns all benchmark indices ordered by id
func (h *HistoryDB) ListIndices(ctx context.Context) ([]domain.Index, error) {
	rows, err := h.q.QueryContext(ctx, `SELECT id, symbol, name FROM indices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query indices: %w", err)
	}
	defer rows.Close()

	var out []domain.Index
	for rows.Next() {
		var idx domain.Index
		if err := rows.Scan(&idx.ID, &idx.Symbol, &idx.Name); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		out = append(out, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating indices: %w", err)
	}
	return out, nil
}

// ListIndexPrices returns an index's closes ascending by date. Zero bounds
// are open.
func (h *HistoryDB) ListIndexPrices(ctx context.Context, indexID int64, from, to time.Time) ([]domain.IndexPrice, error) {
	query := `SELECT index_id, date, close FROM index_prices WHERE 1 = 1`
	var args []any
	if indexID != 0 {
		query += ` AND index_id = ?`
		args = append(args, indexID)
	}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, domain.Day(from).Unix())
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, domain.Day(to).Unix())
	}
	query += ` ORDER BY index_id, date`

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query index prices: %w", err)
	}
	defer rows.Close()

	var out []domain.IndexPrice
	for rows.Next() {
		var p domain.IndexPrice
		var dateUnix int64
		if err := rows.Scan(&p.IndexID, &dateUnix, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan index price: %w", err)
		}
		p.Date = time.Unix(dateUnix, 0).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index prices: %w", err)
	}
	return out, nil
}

// AllIndexPrices returns every stored index close grouped by index.
func (h *HistoryDB) AllIndexPrices(ctx context.Context) (map[int64][]domain.IndexPrice, error) {
	prices, err := h.ListIndexPrices(ctx, 0, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]domain.IndexPrice)
	for _, p := range prices {
		out[p.IndexID] = append(out[p.IndexID], p)
	}
	return out, nil
}

// InsertIndexPricesIfMissing stores closes for days without a row and
// returns how many were inserted.
func (h *HistoryDB) InsertIndexPricesIfMissing(ctx context.Context, indexID int64, points []domain.PricePoint) (int, error) {
	inserted := 0
	for _, p := range points {
		res, err := h.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO index_prices (index_id, date, close) VALUES (?, ?, ?)`,
			indexID, domain.Day(p.Date).Unix(), p.Close)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert index price: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// GetRate returns EUR per unit of currency from the most recent cached day
// at or before date. It returns nil when nothing is cached.
func (h *HistoryDB) GetRate(ctx context.Context, currency domain.Currency, date time.Time) (*float64, error) {
	if currency.IsEUR() {
		one := 1.0
		return &one, nil
	}

	var rate float64
	err := h.q.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE from_currency = ? AND to_currency = 'EUR' AND date <= ?
		ORDER BY date DESC
		LIMIT 1
	`, string(currency), domain.Day(date).Unix()).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s rate: %w", currency, err)
	}
	return &rate, nil
}

// UpsertRate caches a daily rate, replacing any rate stored for that day.
func (h *HistoryDB) UpsertRate(ctx context.Context, r domain.ExchangeRate) error {
	if r.Rate <= 0 {
		return fmt.Errorf("invalid %s/%s rate %v", r.From, r.To, r.Rate)
	}
	_, err := h.q.ExecContext(ctx, `
		INSERT INTO exchange_rates (from_currency, to_currency, date, rate)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (from_currency, to_currency, date) DO UPDATE SET rate = excluded.rate
	`, string(r.From), string(r.To), domain.Day(r.Date).Unix(), r.Rate)
	if err != nil {
		return fmt.Errorf("failed to upsert rate: %w", err)
	}
	return nil
}

// ListRates returns cached rates ascending by date. An empty currency lists
// every pair.
func (h *HistoryDB) ListRates(ctx context.Context, currency domain.Currency) ([]domain.ExchangeRate, error) {
	query := `SELECT from_currency, to_currency, date, rate FROM exchange_rates`
	var args []any
	if currency != "" {
		query += ` WHERE from_currency = ?`
		args = append(args, string(currency))
	}
	query += ` ORDER BY from_currency, to_currency, date`

	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rates: %w", err)
	}
	defer rows.Close()

	var out []domain.ExchangeRate
	for rows.Next() {
		var r domain.ExchangeRate
		var from, to string
		var dateUnix int64
		if err := rows.Scan(&from, &to, &dateUnix, &r.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan rate: %w", err)
		}
		r.From, r.To = domain.Currency(from), domain.Currency(to)
		r.Date = time.Unix(dateUnix, 0).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rates: %w", err)
	}
	return out, nil
}
