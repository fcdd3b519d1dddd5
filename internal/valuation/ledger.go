package valuation

import (
	"math"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// Event is one fill reduced to its effect on holdings and invested capital.
type Event struct {
	Date          time.Time // calendar day
	InstrumentID  int64
	QuantityDelta int64
	InvestedDelta float64
}

// Events converts transactions into a stream ordered by execution time, ties
// kept in ledger order. The invested delta is +|total_eur| for buys and
// -|total_eur| for sells; the sign of total_eur itself is ignored.
func Events(transactions []domain.Transaction) []Event {
	sorted := sortedByTime(transactions)
	events := make([]Event, 0, len(sorted))
	for _, tx := range sorted {
		invested := math.Abs(tx.TotalEUR)
		if tx.Quantity < 0 {
			invested = -invested
		}
		events = append(events, Event{
			Date:          tx.Day(),
			InstrumentID:  tx.InstrumentID,
			QuantityDelta: tx.Quantity,
			InvestedDelta: invested,
		})
	}
	return events
}

// CurrentHoldings sums quantity per instrument over the full ledger.
func CurrentHoldings(transactions []domain.Transaction) map[int64]int64 {
	holdings := make(map[int64]int64)
	for _, tx := range transactions {
		holdings[tx.InstrumentID] += tx.Quantity
	}
	return holdings
}

// HeldInstruments returns the instruments whose full-ledger holding is positive.
func HeldInstruments(transactions []domain.Transaction) map[int64]bool {
	held := make(map[int64]bool)
	for id, qty := range CurrentHoldings(transactions) {
		if qty > 0 {
			held[id] = true
		}
	}
	return held
}

// FilterEvents keeps the events of instruments in keep, preserving order.
func FilterEvents(events []Event, keep map[int64]bool) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if keep[e.InstrumentID] {
			out = append(out, e)
		}
	}
	return out
}

// Replay consumes an ordered event stream incrementally. Each event is applied
// exactly once across any number of AdvanceTo calls with non-decreasing targets.
type Replay struct {
	holdings map[int64]int64
	events   []Event
	pos      int
	invested float64
}

// NewReplay starts a replay before the first event.
func NewReplay(events []Event) *Replay {
	return &Replay{
		events:   events,
		holdings: make(map[int64]int64),
	}
}

// AdvanceTo applies every pending event dated on or before target and returns
// how many were applied. A target earlier than a previous one applies nothing.
func (r *Replay) AdvanceTo(target time.Time) int {
	day := domain.Day(target)
	applied := 0
	for r.pos < len(r.events) && !r.events[r.pos].Date.After(day) {
		e := r.events[r.pos]
		r.holdings[e.InstrumentID] += e.QuantityDelta
		r.invested += e.InvestedDelta
		r.pos++
		applied++
	}
	return applied
}

// Holding returns the running quantity of an instrument.
func (r *Replay) Holding(instrumentID int64) int64 {
	return r.holdings[instrumentID]
}

// Invested returns the running net invested capital in EUR, unrounded.
func (r *Replay) Invested() float64 {
	return r.invested
}

// Done reports whether every event has been applied.
func (r *Replay) Done() bool {
	return r.pos == len(r.events)
}
