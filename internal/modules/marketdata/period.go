package marketdata

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/degiro-portfolio/internal/domain"
)

// PeriodStart returns the first calendar day covered by a lookback period
// ending at now. Accepted forms: "max", "Nd", "Nwk", "Nmo", "Ny".
func PeriodStart(period string, now time.Time) (time.Time, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	today := domain.Day(now)
	if period == "max" {
		return time.Unix(0, 0).UTC(), nil
	}

	var unit string
	for _, suffix := range []string{"wk", "mo", "d", "y"} {
		if strings.HasSuffix(period, suffix) {
			unit = suffix
			break
		}
	}
	if unit == "" {
		return time.Time{}, fmt.Errorf("invalid period %q", period)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(period, unit))
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("invalid period %q", period)
	}

	switch unit {
	case "d":
		return today.AddDate(0, 0, -n), nil
	case "wk":
		return today.AddDate(0, 0, -7*n), nil
	case "mo":
		return today.AddDate(0, -n, 0), nil
	default:
		return today.AddDate(-n, 0, 0), nil
	}
}
