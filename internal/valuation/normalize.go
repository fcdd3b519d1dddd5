package valuation

import (
	"math"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// Performance is an instrument's EUR return against its average buy cost.
type Performance struct {
	Summary     *PerformanceSummary `json:"summary,omitempty"`
	Dates       []string            `json:"dates"`
	ReturnPct   []float64           `json:"return_pct"`
	Warnings    []Warning           `json:"warnings,omitempty"`
	AverageCost float64             `json:"average_cost"`
}

// Position is the market value of a holding as a percentage of the net
// capital invested in it.
type Position struct {
	Dates      []string  `json:"dates"`
	Percentage []float64 `json:"percentage"`
	Invested   []float64 `json:"invested"`
	Value      []float64 `json:"value"`
	Warnings   []Warning `json:"warnings,omitempty"`
}

// NormalizedPoint is a percentage change from the first point of a series.
type NormalizedPoint struct {
	Date       string  `json:"date"`
	Normalized float64 `json:"normalized"`
}

// BenchmarkSeries is a normalized index series.
type BenchmarkSeries struct {
	Name   string            `json:"name"`
	Symbol string            `json:"symbol"`
	Data   []NormalizedPoint `json:"data"`
	ID     int64             `json:"id"`
}

// Normalized overlays an instrument and benchmark indices on a common base.
type Normalized struct {
	InstrumentSeries []NormalizedPoint `json:"instrument_series"`
	BenchmarkSeries  []BenchmarkSeries `json:"benchmark_series"`
	Warnings         []Warning         `json:"warnings,omitempty"`
}

// AverageCost is the weighted average EUR cost per unit over all buys.
// Sells do not reduce the cost basis. ok is false when nothing was bought.
func (e *Engine) AverageCost(id int64) (cost float64, ok bool) {
	var spent float64
	var bought int64
	for _, tx := range e.byInstrument[id] {
		if !tx.IsBuy() {
			continue
		}
		spent += math.Abs(tx.TotalEUR)
		bought += tx.Quantity
	}
	if bought == 0 {
		return 0, false
	}
	return spent / float64(bought), true
}

// InstrumentPerformance computes the percentage return of the EUR price over
// the weighted average cost at every price date on which the instrument was
// held.
func (e *Engine) InstrumentPerformance(id int64) Performance {
	out := Performance{Dates: []string{}, ReturnPct: []float64{}}
	warnings := e.newWarnings()

	cost, ok := e.AverageCost(id)
	if !ok || cost == 0 {
		return out
	}
	out.AverageCost = Round2(cost)

	if inst, found := e.instruments[id]; found && !inst.HasMarketSymbol() {
		warnings.add(WarningSymbolUnresolved, id, "", e.today)
		out.Warnings = warnings.list()
		return out
	}

	replay := NewReplay(FilterEvents(e.events, map[int64]bool{id: true}))
	raw := make([]float64, 0, e.Prices(id).Len())
	for _, p := range e.Prices(id).Points() {
		replay.AdvanceTo(p.Date)
		if replay.Holding(id) <= 0 {
			continue
		}

		conv := e.resolver.EURPrice(p.Close, p.Currency, p.Date, id)
		if !conv.Reliable() {
			warnings.add(WarningRateUnavailable, id, p.Currency, p.Date)
		}
		ret := (conv.EUR - cost) / cost * 100
		raw = append(raw, ret)
		out.Dates = append(out.Dates, domain.FormatDate(p.Date))
		out.ReturnPct = append(out.ReturnPct, Round2(ret))
	}

	out.Summary = summarize(raw)
	out.Warnings = warnings.list()
	return out
}

// InstrumentPosition computes holdings * EUR price / net invested at every
// price date. Dates without a positive holding or positive net invested
// capital are omitted.
func (e *Engine) InstrumentPosition(id int64) Position {
	out := Position{Dates: []string{}, Percentage: []float64{}, Invested: []float64{}, Value: []float64{}}
	warnings := e.newWarnings()

	if inst, found := e.instruments[id]; found && !inst.HasMarketSymbol() {
		warnings.add(WarningSymbolUnresolved, id, "", e.today)
		out.Warnings = warnings.list()
		return out
	}

	replay := NewReplay(FilterEvents(e.events, map[int64]bool{id: true}))
	for _, p := range e.Prices(id).Points() {
		replay.AdvanceTo(p.Date)
		qty := replay.Holding(id)
		invested := replay.Invested()
		if qty <= 0 || invested <= 0 {
			continue
		}

		conv := e.resolver.EURPrice(p.Close, p.Currency, p.Date, id)
		if !conv.Reliable() {
			warnings.add(WarningRateUnavailable, id, p.Currency, p.Date)
		}
		value := float64(qty) * conv.EUR

		out.Dates = append(out.Dates, domain.FormatDate(p.Date))
		out.Percentage = append(out.Percentage, Round2(value/invested*100))
		out.Invested = append(out.Invested, Round2(invested))
		out.Value = append(out.Value, Round2(value))
	}

	out.Warnings = warnings.list()
	return out
}

// InstrumentNormalized returns the instrument's quoted close as a percentage
// change from its first price, and each requested benchmark over the same
// date range relative to its first close in that range. Unknown benchmark
// ids are skipped.
func (e *Engine) InstrumentNormalized(id int64, benchmarkIDs []int64) Normalized {
	out := Normalized{InstrumentSeries: []NormalizedPoint{}, BenchmarkSeries: []BenchmarkSeries{}}
	warnings := e.newWarnings()

	if inst, found := e.instruments[id]; found && !inst.HasMarketSymbol() {
		warnings.add(WarningSymbolUnresolved, id, "", e.today)
		out.Warnings = warnings.list()
		return out
	}

	points := e.Prices(id).Points()
	if len(points) == 0 {
		return out
	}

	if base := points[0].Close; base != 0 {
		for _, p := range points {
			out.InstrumentSeries = append(out.InstrumentSeries, NormalizedPoint{
				Date:       domain.FormatDate(p.Date),
				Normalized: Round2((p.Close - base) / base * 100),
			})
		}
	}

	first, last := points[0].Date, points[len(points)-1].Date
	for _, bid := range benchmarkIDs {
		idx, ok := e.indices[bid]
		if !ok {
			continue
		}
		series := BenchmarkSeries{ID: idx.ID, Name: idx.Name, Symbol: idx.Symbol, Data: []NormalizedPoint{}}

		var base float64
		for _, p := range e.indexPrices[bid] {
			if p.Date.Before(first) || p.Date.After(last) {
				continue
			}
			if base == 0 {
				if p.Close == 0 {
					continue
				}
				base = p.Close
			}
			series.Data = append(series.Data, NormalizedPoint{
				Date:       domain.FormatDate(p.Date),
				Normalized: Round2((p.Close - base) / base * 100),
			})
		}
		out.BenchmarkSeries = append(out.BenchmarkSeries, series)
	}

	out.Warnings = warnings.list()
	return out
}
