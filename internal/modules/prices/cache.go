package prices

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Cache provides TTL-bounded persistence for price lookups in the
// cache-profile database. Entries survive restarts but are safe to lose.
type Cache struct {
	db *sql.DB
}

// NewCache creates a price cache backed by the cache database.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// cachedPrice is the structure stored in the cache.
type cachedPrice struct {
	PriceUSD string `json:"price_usd"`
	Source   string `json:"source"`
}

// Store saves a price with expiration = now + ttl.
func (c *Cache) Store(key string, entry cachedPrice, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}

	expiresAt := time.Now().Add(ttl).Unix()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO price_cache (key, data, expires_at) VALUES (?, ?, ?)",
		key, string(data), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store price for %s: %w", key, err)
	}
	return nil
}

// GetIfFresh returns the entry only if expires_at > now.
// Returns ok=false if the key does not exist or the entry is expired.
func (c *Cache) GetIfFresh(key string) (cachedPrice, bool, error) {
	return c.get(key, true)
}

// Get returns the entry regardless of expiration.
// Use this as a fallback when the upstream API fails.
func (c *Cache) Get(key string) (cachedPrice, bool, error) {
	return c.get(key, false)
}

func (c *Cache) get(key string, freshOnly bool) (cachedPrice, bool, error) {
	query := "SELECT data FROM price_cache WHERE key = ?"
	args := []interface{}{key}
	if freshOnly {
		query += " AND expires_at > ?"
		args = append(args, time.Now().Unix())
	}

	var data string
	err := c.db.QueryRow(query, args...).Scan(&data)
	if err == sql.ErrNoRows {
		return cachedPrice{}, false, nil
	}
	if err != nil {
		return cachedPrice{}, false, fmt.Errorf("failed to read price for %s: %w", key, err)
	}

	var entry cachedPrice
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return cachedPrice{}, false, fmt.Errorf("failed to decode cached price for %s: %w", key, err)
	}
	return entry, true, nil
}

// DeleteExpired removes entries whose TTL has passed.
// Returns the number of rows deleted.
func (c *Cache) DeleteExpired() (int64, error) {
	result, err := c.db.Exec("DELETE FROM price_cache WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired prices: %w", err)
	}
	return result.RowsAffected()
}
