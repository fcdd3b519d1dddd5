// Package clientdata caches external API responses in client_data.db.
// Values are msgpack blobs with an expiry; stale values stay readable as a
// fallback when the upstream API is down.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache tables
const (
	TableExchangeRate = "exchangerate"
	TableQuotes       = "quotes"
	TableOpenFIGI     = "openfigi"
)

// AllTables lists all tables in client_data.db for cleanup operations.
var AllTables = []string{TableExchangeRate, TableQuotes, TableOpenFIGI}

// keyColumns maps each table to its primary key column. Table names are only
// ever taken from this map, never from callers.
var keyColumns = map[string]string{
	TableExchangeRate: "pair",
	TableQuotes:       "symbol",
	TableOpenFIGI:     "isin",
}

// Repository provides cache operations for client data.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func keyColumn(table string) (string, error) {
	col, ok := keyColumns[table]
	if !ok {
		return "", fmt.Errorf("invalid table name: %s", table)
	}
	return col, nil
}

// Store saves v with expiration = now + ttl, replacing any previous value.
func (r *Repository) Store(ctx context.Context, table, key string, v interface{}, ttl time.Duration) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, key, err)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s, data, expires_at) VALUES (?, ?, ?)", table, col)
	if _, err := r.db.ExecContext(ctx, query, key, data, r.now().Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}
	return nil
}

// GetIfFresh decodes the cached value into out when it has not expired.
// Reports whether a fresh value was found.
func (r *Repository) GetIfFresh(ctx context.Context, table, key string, out interface{}) (bool, error) {
	return r.get(ctx, table, key, out, true)
}

// Get decodes the cached value into out regardless of expiry.
// Reports whether a value was found.
func (r *Repository) Get(ctx context.Context, table, key string, out interface{}) (bool, error) {
	return r.get(ctx, table, key, out, false)
}

func (r *Repository) get(ctx context.Context, table, key string, out interface{}, freshOnly bool) (bool, error) {
	col, err := keyColumn(table)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data, expires_at FROM %s WHERE %s = ?", table, col)
	var data []byte
	var expiresAt int64
	err = r.db.QueryRowContext(ctx, query, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}
	if freshOnly && expiresAt <= r.now().Unix() {
		return false, nil
	}

	if err := msgpack.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", table, key, err)
	}
	return true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(ctx context.Context, table, key string) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, col), key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// DeleteExpired removes all rows of table that have expired and returns how
// many were removed.
func (r *Repository) DeleteExpired(ctx context.Context, table string) (int64, error) {
	if _, err := keyColumn(table); err != nil {
		return 0, err
	}

	result, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired removes expired entries from every table.
func (r *Repository) DeleteAllExpired(ctx context.Context) (map[string]int64, error) {
	results := make(map[string]int64, len(AllTables))
	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(ctx, table)
		if err != nil {
			return results, err
		}
		results[table] = deleted
	}
	return results, nil
}
