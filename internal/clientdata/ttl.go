package clientdata

import "time"

// TTL constants, added to the current time when storing to calculate expires_at.
const (
	TTLExchangeRate = time.Hour
	TTLQuote        = 10 * time.Minute
	TTLOpenFIGI     = 30 * 24 * time.Hour // ISIN listings rarely change
)
