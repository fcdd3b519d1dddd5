package valuation

import (
	"fmt"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// WarningKind classifies a recovered data gap.
type WarningKind string

const (
	// WarningSymbolUnresolved: the instrument has no market symbol and is
	// excluded from price-dependent series.
	WarningSymbolUnresolved WarningKind = "symbol_unresolved"
	// WarningRateUnavailable: no FX rate was known, the raw price was used.
	WarningRateUnavailable WarningKind = "rate_unavailable"
	// WarningPriceMissing: a held instrument had no price at or before a
	// sample date and contributed zero.
	WarningPriceMissing WarningKind = "price_missing"
)

// Warning is a structured, non-fatal data-quality notice.
type Warning struct {
	Kind         WarningKind `json:"kind"`
	ISIN         string      `json:"isin,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	FirstDate    string      `json:"first_date,omitempty"`
	Message      string      `json:"message"`
	InstrumentID int64       `json:"instrument_id,omitempty"`
	Occurrences  int         `json:"occurrences"`
}

type warningKey struct {
	kind     WarningKind
	id       int64
	currency domain.Currency
}

// warningSet collects warnings deduplicated per kind, instrument and currency,
// counting repeats instead of emitting them again.
type warningSet struct {
	instruments map[int64]domain.Instrument
	byKey       map[warningKey]*Warning
	order       []warningKey
}

func newWarningSet(instruments map[int64]domain.Instrument) *warningSet {
	return &warningSet{
		instruments: instruments,
		byKey:       make(map[warningKey]*Warning),
	}
}

func (s *warningSet) add(kind WarningKind, id int64, currency domain.Currency, date time.Time) {
	key := warningKey{kind: kind, id: id, currency: currency}
	if w, ok := s.byKey[key]; ok {
		w.Occurrences++
		return
	}

	inst := s.instruments[id]
	w := &Warning{
		Kind:         kind,
		InstrumentID: id,
		ISIN:         inst.ISIN,
		Currency:     string(currency),
		Occurrences:  1,
	}
	if !date.IsZero() {
		w.FirstDate = domain.FormatDate(date)
	}

	label := inst.Name
	if label == "" {
		label = fmt.Sprintf("instrument %d", id)
	}
	switch kind {
	case WarningSymbolUnresolved:
		w.Message = fmt.Sprintf("%s has no market data symbol; excluded from value series", label)
	case WarningRateUnavailable:
		w.Message = fmt.Sprintf("no %s to EUR rate known for %s; raw price used", currency, label)
	case WarningPriceMissing:
		w.Message = fmt.Sprintf("no price available for %s; valued at zero", label)
	}

	s.byKey[key] = w
	s.order = append(s.order, key)
}

// list returns the warnings in first-seen order, or nil when there are none.
func (s *warningSet) list() []Warning {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]Warning, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.byKey[key])
	}
	return out
}
