// Package valuation turns a ledger of buy/sell fills and sparse daily price
// history into EUR-normalised valuation series.
//
// Everything in this package is synchronous and operates on an immutable
// in-memory Snapshot: callers read the snapshot inside one database
// transaction, then build an Engine over it. Cursors used during a build are
// local to that build, so an Engine may serve concurrent requests.
//
// Missing data never produces an error. Instruments without prices contribute
// zero value, unknown exchange rates fall back to the raw price, and both are
// reported through Warnings.
package valuation
