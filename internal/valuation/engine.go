package valuation

import (
	"slices"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// Snapshot is a point-in-time copy of everything valuation reads.
// Slices need not be sorted.
type Snapshot struct {
	Today        time.Time
	Prices       map[int64][]domain.PricePoint
	IndexPrices  map[int64][]domain.IndexPrice
	Instruments  []domain.Instrument
	Transactions []domain.Transaction
	Rates        []domain.ExchangeRate
	Indices      []domain.Index
}

// Engine answers valuation queries over one Snapshot. It is immutable after
// construction and safe for concurrent use.
type Engine struct {
	today        time.Time
	resolver     *Resolver
	instruments  map[int64]domain.Instrument
	byInstrument map[int64][]domain.Transaction
	prices       map[int64]*PriceIndex
	indices      map[int64]domain.Index
	indexPrices  map[int64][]domain.IndexPrice
	held         map[int64]bool
	events       []Event
	transactions []domain.Transaction
}

// NewEngine indexes a snapshot. Sorting happens here, once.
func NewEngine(s Snapshot) *Engine {
	today := s.Today
	if today.IsZero() {
		today = domain.Today()
	}

	e := &Engine{
		today:        domain.Day(today),
		resolver:     NewResolver(s.Rates, s.Transactions),
		instruments:  make(map[int64]domain.Instrument, len(s.Instruments)),
		byInstrument: make(map[int64][]domain.Transaction),
		prices:       make(map[int64]*PriceIndex, len(s.Prices)),
		indices:      make(map[int64]domain.Index, len(s.Indices)),
		indexPrices:  make(map[int64][]domain.IndexPrice, len(s.IndexPrices)),
		held:         HeldInstruments(s.Transactions),
		events:       Events(s.Transactions),
		transactions: sortedByTime(s.Transactions),
	}

	for _, inst := range s.Instruments {
		e.instruments[inst.ID] = inst
	}
	for _, tx := range e.transactions {
		e.byInstrument[tx.InstrumentID] = append(e.byInstrument[tx.InstrumentID], tx)
	}
	for id, points := range s.Prices {
		e.prices[id] = NewPriceIndex(points)
	}
	for _, idx := range s.Indices {
		e.indices[idx.ID] = idx
	}
	for id, points := range s.IndexPrices {
		sorted := make([]domain.IndexPrice, len(points))
		for i, p := range points {
			p.Date = domain.Day(p.Date)
			sorted[i] = p
		}
		slices.SortStableFunc(sorted, func(a, b domain.IndexPrice) int { return a.Date.Compare(b.Date) })
		e.indexPrices[id] = sorted
	}

	return e
}

// Today returns the calendar day the engine treats as "now".
func (e *Engine) Today() time.Time {
	return e.today
}

// Resolver returns the engine's currency resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Instrument looks up an instrument by id.
func (e *Engine) Instrument(id int64) (domain.Instrument, bool) {
	inst, ok := e.instruments[id]
	return inst, ok
}

// Prices returns the instrument's price index; never nil.
func (e *Engine) Prices(id int64) *PriceIndex {
	if p, ok := e.prices[id]; ok {
		return p
	}
	return NewPriceIndex(nil)
}

// Transactions returns the instrument's fills in execution order.
func (e *Engine) Transactions(id int64) []domain.Transaction {
	return e.byInstrument[id]
}

// Holding returns the full-ledger quantity held of an instrument.
func (e *Engine) Holding(id int64) int64 {
	var qty int64
	for _, tx := range e.byInstrument[id] {
		qty += tx.Quantity
	}
	return qty
}

// HeldIDs returns the currently held instruments in ascending id order.
func (e *Engine) HeldIDs() []int64 {
	ids := make([]int64, 0, len(e.held))
	for id := range e.held {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Index looks up a benchmark index by id.
func (e *Engine) Index(id int64) (domain.Index, bool) {
	idx, ok := e.indices[id]
	return idx, ok
}

// IndexIDs returns every known benchmark id in ascending order.
func (e *Engine) IndexIDs() []int64 {
	ids := make([]int64, 0, len(e.indices))
	for id := range e.indices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Engine) newWarnings() *warningSet {
	return newWarningSet(e.instruments)
}
