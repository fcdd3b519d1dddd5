package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Logical columns of a DEGIRO Transactions.csv export
const (
	colDate         = "date"
	colTime         = "time"
	colProduct      = "product"
	colISIN         = "isin"
	colExchange     = "exchange"
	colVenue        = "venue"
	colQuantity     = "quantity"
	colPrice        = "price"
	colCurrency     = "currency"
	colValueEUR     = "value_eur"
	colExchangeRate = "exchange_rate"
	colFeesEUR      = "fees_eur"
	colTotalEUR     = "total_eur"
	colOrderID      = "order_id"
)

// degiroHeaders maps normalised header text to logical columns.
// DEGIRO leaves the currency of Price unnamed; it is found positionally.
var degiroHeaders = map[string]string{
	"date":               colDate,
	"time":               colTime,
	"product":            colProduct,
	"isin":               colISIN,
	"reference exchange": colExchange,
	"exchange":           colExchange,
	"venue":              colVenue,
	"quantity":           colQuantity,
	"price":              colPrice,
	"currency":           colCurrency,
	"value eur":          colValueEUR,
	"value":              colValueEUR,
	"exchange rate":      colExchangeRate,
	"transaction and/or third party fees eur": colFeesEUR,
	"transaction and/or third party fees":     colFeesEUR,
	"total eur":                               colTotalEUR,
	"total":                                   colTotalEUR,
	"order id":                                colOrderID,
}

var requiredColumns = []string{
	colDate, colProduct, colISIN, colExchange, colQuantity, colPrice, colCurrency, colValueEUR, colTotalEUR,
}

// ImportResult summarises one upload.
type ImportResult struct {
	ImportID        string  `json:"import_id"`
	Touched         []int64 `json:"-"`
	NewTransactions int     `json:"new_transactions"`
	NewInstruments  int     `json:"new_instruments"`
	Duplicates      int     `json:"duplicates"`
	Ignored         int     `json:"ignored"`
}

// FollowUpResult reports the market data fetched after an import.
type FollowUpResult struct {
	PricesFetched  int `json:"prices_fetched"`
	IndicesCreated int `json:"indices_created"`
	IndicesUpdated int `json:"indices_updated"`
}

// Importer loads broker CSV exports into the ledger.
type Importer struct {
	repo    *Repository
	ignored func(isin string) bool
	log     zerolog.Logger
}

// NewImporter creates an importer. Rows whose ISIN satisfies ignored are skipped.
func NewImporter(repo *Repository, ignored func(isin string) bool, log zerolog.Logger) *Importer {
	if ignored == nil {
		ignored = func(string) bool { return false }
	}
	return &Importer{
		repo:    repo,
		ignored: ignored,
		log:     log.With().Str("component", "importer").Logger(),
	}
}

type parsedRow struct {
	executedAt time.Time
	fees       *float64
	rate       *float64
	isin       string
	product    string
	exchange   string
	venue      string
	currency   domain.Currency
	orderID    string
	line       int
	quantity   int64
	price      float64
	valueEUR   float64
	totalEUR   float64
}

// Import parses the whole file before writing anything, then inserts every
// new fill in one transaction. A malformed row aborts the import with a
// *RowError; a missing column with a *MissingColumnsError.
func (im *Importer) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	rows, ignored, err := im.parse(r)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{ImportID: uuid.NewString(), Ignored: ignored}
	native := nativeCurrencies(rows)
	touched := make(map[int64]bool)

	err = im.repo.InTx(ctx, func(repo *Repository) error {
		for _, row := range rows {
			inst, err := repo.GetInstrumentByISIN(ctx, row.isin)
			if errors.Is(err, ErrInstrumentNotFound) {
				inst = &domain.Instrument{
					ISIN:     row.isin,
					Symbol:   symbolFromProduct(row.product, row.isin),
					Name:     row.product,
					Exchange: row.exchange,
					Currency: native[row.isin],
				}
				if err := repo.CreateInstrument(ctx, inst); err != nil {
					return err
				}
				result.NewInstruments++
			} else if err != nil {
				return err
			}
			if !touched[inst.ID] {
				touched[inst.ID] = true
				result.Touched = append(result.Touched, inst.ID)
			}

			exists, err := repo.TransactionExists(ctx, inst.ID, row.executedAt, row.quantity, row.price)
			if err != nil {
				return err
			}
			if exists {
				result.Duplicates++
				continue
			}

			tx := &domain.Transaction{
				InstrumentID: inst.ID,
				ExecutedAt:   row.executedAt,
				Quantity:     row.quantity,
				Price:        row.price,
				Currency:     row.currency,
				ValueEUR:     row.valueEUR,
				TotalEUR:     row.totalEUR,
				Venue:        row.venue,
				ExchangeRate: row.rate,
				FeesEUR:      row.fees,
				OrderID:      row.orderID,
				ImportID:     result.ImportID,
			}
			if err := repo.InsertTransaction(ctx, tx); err != nil {
				return fmt.Errorf("line %d: %w", row.line, err)
			}
			result.NewTransactions++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}

	im.log.Info().
		Str("import_id", result.ImportID).
		Int("new_transactions", result.NewTransactions).
		Int("new_instruments", result.NewInstruments).
		Int("duplicates", result.Duplicates).
		Int("ignored", result.Ignored).
		Msg("Transactions imported")

	return result, nil
}

func (im *Importer) parse(r io.Reader) ([]parsedRow, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, fmt.Errorf("%w: file is empty", ErrInvalidFile)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	cols, orderIDFollows := mapHeader(header)
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, 0, &MissingColumnsError{Missing: missing}
	}

	var rows []parsedRow
	ignored := 0
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, 0, &RowError{Line: line, Err: err}
		}
		if isBlank(record) {
			continue
		}

		get := func(col string) string {
			i, ok := cols[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		isin := strings.ToUpper(get(colISIN))
		if isin == "" {
			return nil, 0, &RowError{Line: line, Column: colISIN, Err: errors.New("empty ISIN")}
		}
		if im.ignored(isin) {
			ignored++
			continue
		}

		row := parsedRow{
			line:     line,
			isin:     isin,
			product:  get(colProduct),
			exchange: get(colExchange),
			venue:    get(colVenue),
			currency: domain.Currency(strings.ToUpper(get(colCurrency))),
			orderID:  get(colOrderID),
		}
		if row.orderID == "" && orderIDFollows >= 0 && orderIDFollows < len(record) {
			row.orderID = strings.TrimSpace(record[orderIDFollows])
		}
		if row.currency == "" {
			return nil, 0, &RowError{Line: line, Column: colCurrency, Err: errors.New("empty currency")}
		}

		if row.executedAt, err = parseTimestamp(get(colDate), get(colTime)); err != nil {
			return nil, 0, &RowError{Line: line, Column: colDate, Err: err}
		}

		qty, err := parseNumber(get(colQuantity))
		if err != nil {
			return nil, 0, &RowError{Line: line, Column: colQuantity, Err: err}
		}
		if !qty.IsInteger() || qty.IsZero() {
			return nil, 0, &RowError{Line: line, Column: colQuantity, Err: fmt.Errorf("quantity must be a non-zero whole number, got %s", qty)}
		}
		row.quantity = qty.IntPart()

		numbers := []struct {
			col string
			dst *float64
		}{
			{colPrice, &row.price},
			{colValueEUR, &row.valueEUR},
			{colTotalEUR, &row.totalEUR},
		}
		for _, n := range numbers {
			d, err := parseNumber(get(n.col))
			if err != nil {
				return nil, 0, &RowError{Line: line, Column: n.col, Err: err}
			}
			*n.dst = d.InexactFloat64()
		}

		for _, opt := range []struct {
			col string
			dst **float64
		}{
			{colExchangeRate, &row.rate},
			{colFeesEUR, &row.fees},
		} {
			raw := get(opt.col)
			if raw == "" {
				continue
			}
			d, err := parseNumber(raw)
			if err != nil {
				return nil, 0, &RowError{Line: line, Column: opt.col, Err: err}
			}
			v := d.InexactFloat64()
			*opt.dst = &v
		}

		rows = append(rows, row)
	}

	return rows, ignored, nil
}

// mapHeader resolves header cells to logical columns. It also returns the
// index of the unnamed cell after "Order ID", where newer exports put the id.
func mapHeader(header []string) (map[string]int, int) {
	cols := make(map[string]int)
	orderIDFollows := -1
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		key = strings.Join(strings.Fields(key), " ")
		if key == "" {
			// The unnamed cell after Price carries the price currency
			if i > 0 {
				if prev, ok := cols[colPrice]; ok && prev == i-1 {
					if _, set := cols[colCurrency]; !set {
						cols[colCurrency] = i
					}
				}
				if prev, ok := cols[colOrderID]; ok && prev == i-1 {
					orderIDFollows = i
				}
			}
			continue
		}
		if col, ok := degiroHeaders[key]; ok {
			if _, dup := cols[col]; !dup {
				cols[col] = i
			}
		}
	}
	return cols, orderIDFollows
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// parseTimestamp parses DEGIRO's dd-mm-yyyy date and HH:MM time.
func parseTimestamp(date, clock string) (time.Time, error) {
	if clock == "" {
		clock = "00:00"
	}
	t, err := time.Parse("02-01-2006 15:04", date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time %q %q", date, clock)
	}
	return t, nil
}

// parseNumber accepts both decimal points and decimal commas. When both
// separators appear, the last one is the decimal separator.
func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return decimal.Zero, errors.New("empty number")
	}

	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q", s)
	}
	return d, nil
}

// nativeCurrencies picks the most frequent currency per ISIN, the earliest
// seen winning ties.
func nativeCurrencies(rows []parsedRow) map[string]domain.Currency {
	counts := make(map[string]map[domain.Currency]int)
	order := make(map[string][]domain.Currency)
	for _, row := range rows {
		if counts[row.isin] == nil {
			counts[row.isin] = make(map[domain.Currency]int)
		}
		if counts[row.isin][row.currency] == 0 {
			order[row.isin] = append(order[row.isin], row.currency)
		}
		counts[row.isin][row.currency]++
	}

	out := make(map[string]domain.Currency, len(counts))
	for isin, seen := range order {
		best := seen[0]
		for _, c := range seen[1:] {
			if counts[isin][c] > counts[isin][best] {
				best = c
			}
		}
		out[isin] = best
	}
	return out
}

// symbolFromProduct uses the first word of the product name.
func symbolFromProduct(product, isin string) string {
	if fields := strings.Fields(product); len(fields) > 0 {
		return strings.ToUpper(fields[0])
	}
	return isin
}
