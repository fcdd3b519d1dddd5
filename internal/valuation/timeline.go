package valuation

import (
	"slices"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// Timeline is the portfolio's invested capital and market value over time.
type Timeline struct {
	Dates           []string  `json:"dates"`
	Invested        []float64 `json:"invested"`
	Values          []float64 `json:"values"`
	UnreliableDates []string  `json:"unreliable_dates,omitempty"`
	Warnings        []Warning `json:"warnings,omitempty"`
}

func emptyTimeline() Timeline {
	return Timeline{Dates: []string{}, Invested: []float64{}, Values: []float64{}}
}

// PortfolioTimeline values every currently held instrument at each sample
// date. Fully exited instruments are ignored throughout, including their
// historical invested capital.
func (e *Engine) PortfolioTimeline() Timeline {
	ids := e.HeldIDs()
	return e.BuildTimeline(ids, e.SampleDates(ids))
}

// SampleDates returns the ascending union of price dates of ids, starting at
// the earliest fill of any of them. Today is appended when it is later than
// the last price date, or used alone when there are no prices at all.
func (e *Engine) SampleDates(ids []int64) []time.Time {
	var start time.Time
	for _, id := range ids {
		txs := e.byInstrument[id]
		if len(txs) == 0 {
			continue
		}
		if first := txs[0].Day(); start.IsZero() || first.Before(start) {
			start = first
		}
	}
	if start.IsZero() {
		return nil
	}

	seen := make(map[time.Time]struct{})
	var dates []time.Time
	for _, id := range ids {
		if inst, ok := e.instruments[id]; ok && !inst.HasMarketSymbol() {
			continue
		}
		for _, p := range e.Prices(id).Points() {
			if p.Date.Before(start) {
				continue
			}
			if _, dup := seen[p.Date]; dup {
				continue
			}
			seen[p.Date] = struct{}{}
			dates = append(dates, p.Date)
		}
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	if (len(dates) == 0 || e.today.After(dates[len(dates)-1])) && !e.today.Before(start) {
		dates = append(dates, e.today)
	}
	return dates
}

// BuildTimeline replays the fills of ids in one forward pass over
// sampleDates, which must be ascending.
func (e *Engine) BuildTimeline(ids []int64, sampleDates []time.Time) Timeline {
	out := emptyTimeline()
	if len(ids) == 0 || len(sampleDates) == 0 {
		return out
	}

	ids = slices.Clone(ids)
	slices.Sort(ids)

	warnings := e.newWarnings()
	keep := make(map[int64]bool, len(ids))
	cursors := make(map[int64]*PriceCursor, len(ids))
	for _, id := range ids {
		keep[id] = true
		cursors[id] = e.Prices(id).Cursor()
		if inst, ok := e.instruments[id]; ok && !inst.HasMarketSymbol() {
			warnings.add(WarningSymbolUnresolved, id, "", time.Time{})
		}
	}

	replay := NewReplay(FilterEvents(e.events, keep))
	for _, date := range sampleDates {
		replay.AdvanceTo(date)

		total := 0.0
		unreliable := false
		for _, id := range ids {
			qty := replay.Holding(id)
			if qty <= 0 {
				continue
			}
			if inst, ok := e.instruments[id]; ok && !inst.HasMarketSymbol() {
				continue
			}

			p, ok := cursors[id].OnOrBefore(date)
			if !ok {
				warnings.add(WarningPriceMissing, id, "", date)
				continue
			}

			conv := e.resolver.EURPrice(p.Close, p.Currency, date, id)
			if !conv.Reliable() {
				warnings.add(WarningRateUnavailable, id, p.Currency, date)
				unreliable = true
			}
			total += float64(qty) * conv.EUR
		}

		day := domain.FormatDate(date)
		out.Dates = append(out.Dates, day)
		out.Invested = append(out.Invested, Round2(replay.Invested()))
		out.Values = append(out.Values, Round2(total))
		if unreliable {
			out.UnreliableDates = append(out.UnreliableDates, day)
		}
	}

	out.Warnings = warnings.list()
	return out
}
