package portfolio

import (
	"context"
	"math"

	"github.com/aristath/degiro-portfolio/internal/domain"
	"github.com/aristath/degiro-portfolio/internal/valuation"
	"github.com/markcheno/go-talib"
)

// Moving-average windows overlaid on instrument charts
const (
	shortSMAPeriod = 20
	longSMAPeriod  = 50
)

// ChartStock identifies the charted instrument.
type ChartStock struct {
	Name         string          `json:"name"`
	Symbol       string          `json:"symbol"`
	Currency     domain.Currency `json:"currency"`
	DataProvider string          `json:"data_provider"`
	ID           int64           `json:"id"`
}

// ChartPrice is one OHLC candle.
type ChartPrice struct {
	Date     string          `json:"date"`
	Currency domain.Currency `json:"currency"`
	Open     float64         `json:"open"`
	High     float64         `json:"high"`
	Low      float64         `json:"low"`
	Close    float64         `json:"close"`
}

// ChartTransaction is a fill with the running share count after it.
type ChartTransaction struct {
	Date            string          `json:"date"`
	TransactionType string          `json:"transaction_type"`
	Currency        domain.Currency `json:"currency"`
	Shares          int64           `json:"shares"`
	Quantity        int64           `json:"quantity"`
	Price           float64         `json:"price"`
}

// PositionPoint is one date of the position-percentage series.
type PositionPoint struct {
	Date       string  `json:"date"`
	Percentage float64 `json:"percentage"`
	Invested   float64 `json:"invested"`
	Value      float64 `json:"value"`
}

// MovingAveragePoint is one value of a moving-average overlay.
type MovingAveragePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// ChartData is everything the instrument chart draws.
type ChartData struct {
	Stock              ChartStock                      `json:"stock"`
	Prices             []ChartPrice                    `json:"prices"`
	Transactions       []ChartTransaction              `json:"transactions"`
	Indices            []valuation.BenchmarkSeries     `json:"indices"`
	StockNormalized    []valuation.NormalizedPoint     `json:"stock_normalized"`
	PositionPercentage []PositionPoint                 `json:"position_percentage"`
	MovingAverages     map[string][]MovingAveragePoint `json:"moving_averages"`
	Warnings           []valuation.Warning             `json:"warnings,omitempty"`
}

// ChartData assembles prices, the running position, normalized instrument
// and benchmark series, position percentage and moving averages for one
// instrument.
func (s *Service) ChartData(ctx context.Context, id int64) (ChartData, error) {
	engine, inst, err := s.instrumentEngine(ctx, id)
	if err != nil {
		return ChartData{}, err
	}

	provider := inst.DataProvider
	if provider == "" {
		provider = "unknown"
	}
	out := ChartData{
		Stock: ChartStock{
			ID:           inst.ID,
			Name:         inst.Name,
			Symbol:       inst.Symbol,
			Currency:     inst.Currency,
			DataProvider: provider,
		},
		Prices:             []ChartPrice{},
		Transactions:       []ChartTransaction{},
		PositionPercentage: []PositionPoint{},
	}

	points := engine.Prices(id).Points()
	closes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
		out.Prices = append(out.Prices, ChartPrice{
			Date:     domain.FormatDate(p.Date),
			Open:     p.Open,
			High:     p.High,
			Low:      p.Low,
			Close:    p.Close,
			Currency: p.Currency,
		})
	}

	var shares int64
	for _, tx := range engine.Transactions(id) {
		shares += tx.Quantity
		qty := tx.Quantity
		if qty < 0 {
			qty = -qty
		}
		out.Transactions = append(out.Transactions, ChartTransaction{
			Date:            domain.FormatDate(tx.ExecutedAt),
			Shares:          shares,
			TransactionType: tx.Side(),
			Quantity:        qty,
			Price:           tx.Price,
			Currency:        tx.Currency,
		})
	}

	norm := engine.InstrumentNormalized(id, engine.IndexIDs())
	out.StockNormalized = norm.InstrumentSeries
	out.Indices = make([]valuation.BenchmarkSeries, 0, len(norm.BenchmarkSeries))
	for _, series := range norm.BenchmarkSeries {
		if len(series.Data) > 0 {
			out.Indices = append(out.Indices, series)
		}
	}

	pos := engine.InstrumentPosition(id)
	for i, d := range pos.Dates {
		out.PositionPercentage = append(out.PositionPercentage, PositionPoint{
			Date:       d,
			Percentage: pos.Percentage[i],
			Invested:   pos.Invested[i],
			Value:      pos.Value[i],
		})
	}

	out.MovingAverages = map[string][]MovingAveragePoint{
		"sma20": movingAverage(points, closes, shortSMAPeriod),
		"sma50": movingAverage(points, closes, longSMAPeriod),
	}

	out.Warnings = mergeWarnings(norm.Warnings, pos.Warnings)
	s.logWarnings("chart_data", out.Warnings)
	return out, nil
}

// movingAverage returns the simple moving average from the first full window
// onwards; an empty series when there are fewer closes than the window.
func movingAverage(points []domain.PricePoint, closes []float64, period int) []MovingAveragePoint {
	out := []MovingAveragePoint{}
	if len(closes) < period {
		return out
	}

	sma := talib.Sma(closes, period)
	for i := period - 1; i < len(sma); i++ {
		if math.IsNaN(sma[i]) {
			continue
		}
		out = append(out, MovingAveragePoint{
			Date:  domain.FormatDate(points[i].Date),
			Value: valuation.Round2(sma[i]),
		})
	}
	return out
}

// mergeWarnings concatenates warning lists, dropping repeats of the same
// kind for the same instrument and currency.
func mergeWarnings(lists ...[]valuation.Warning) []valuation.Warning {
	type key struct {
		kind     valuation.WarningKind
		id       int64
		currency string
	}
	seen := make(map[key]bool)
	var out []valuation.Warning
	for _, list := range lists {
		for _, w := range list {
			k := key{w.Kind, w.InstrumentID, w.Currency}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, w)
		}
	}
	return out
}
