package valuation

import (
	"slices"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// PriceIndex is one instrument's price history sorted by calendar day with at
// most one point per day.
type PriceIndex struct {
	points []domain.PricePoint
}

// NewPriceIndex sorts points once. Dates are normalised to calendar days;
// when several points share a day, the last one in input order is kept.
func NewPriceIndex(points []domain.PricePoint) *PriceIndex {
	sorted := make([]domain.PricePoint, len(points))
	for i, p := range points {
		p.Date = domain.Day(p.Date)
		sorted[i] = p
	}
	slices.SortStableFunc(sorted, func(a, b domain.PricePoint) int {
		return a.Date.Compare(b.Date)
	})

	deduped := sorted[:0]
	for _, p := range sorted {
		if n := len(deduped); n > 0 && deduped[n-1].Date.Equal(p.Date) {
			deduped[n-1] = p
			continue
		}
		deduped = append(deduped, p)
	}

	return &PriceIndex{points: deduped}
}

// Len returns the number of distinct days with a price.
func (p *PriceIndex) Len() int {
	return len(p.points)
}

// Points returns the sorted series. The slice must not be modified.
func (p *PriceIndex) Points() []domain.PricePoint {
	return p.points
}

// OnOrBefore returns the price for date, or the latest earlier one.
// It never returns a point dated after date.
func (p *PriceIndex) OnOrBefore(date time.Time) (domain.PricePoint, bool) {
	i := p.upperBound(domain.Day(date))
	if i == 0 {
		return domain.PricePoint{}, false
	}
	return p.points[i-1], true
}

// upperBound returns the number of points dated on or before day.
func (p *PriceIndex) upperBound(day time.Time) int {
	i, _ := slices.BinarySearchFunc(p.points, day, func(e domain.PricePoint, target time.Time) int {
		if e.Date.After(target) {
			return 1
		}
		return -1
	})
	return i
}

// Cursor returns a forward-only lookup positioned before the first point.
func (p *PriceIndex) Cursor() *PriceCursor {
	return &PriceCursor{index: p}
}

// PriceCursor answers OnOrBefore in amortised O(1) for non-decreasing dates.
type PriceCursor struct {
	index *PriceIndex
	last  time.Time
	pos   int // points[:pos] are dated on or before last
}

// OnOrBefore behaves like PriceIndex.OnOrBefore. A date earlier than the
// previous call is answered by binary search without moving the cursor.
func (c *PriceCursor) OnOrBefore(date time.Time) (domain.PricePoint, bool) {
	day := domain.Day(date)
	if day.Before(c.last) {
		return c.index.OnOrBefore(day)
	}

	points := c.index.points
	for c.pos < len(points) && !points[c.pos].Date.After(day) {
		c.pos++
	}
	c.last = day

	if c.pos == 0 {
		return domain.PricePoint{}, false
	}
	return points[c.pos-1], true
}
