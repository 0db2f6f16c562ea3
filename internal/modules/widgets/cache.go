package widgets

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// widgetTTL keeps widget payloads hot for embedding without hammering the
// series tables on every page load.
const widgetTTL = 30 * time.Second

// Cache stores msgpack-encoded widget payloads in cache.db with a short TTL.
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCache creates a new widget cache backed by the given cache database.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "widget_cache").Logger(),
	}
}

// Store encodes payload with msgpack and writes it under key.
func (c *Cache) Store(key string, payload interface{}, ttl time.Duration) error {
	blob, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode widget payload for %s: %w", key, err)
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO widget_cache (key, data, expires_at) VALUES (?, ?, ?)",
		key, blob, time.Now().Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache widget %s: %w", key, err)
	}
	return nil
}

// Load decodes a fresh cached payload into out. It reports whether a fresh
// entry existed.
func (c *Cache) Load(key string, out interface{}) (bool, error) {
	var blob []byte
	err := c.db.QueryRow(
		"SELECT data FROM widget_cache WHERE key = ? AND expires_at > ?",
		key, time.Now().Unix(),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read widget cache %s: %w", key, err)
	}
	if err := msgpack.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("corrupt widget cache entry %s: %w", key, err)
	}
	return true, nil
}

// DeleteExpired removes entries past their TTL.
func (c *Cache) DeleteExpired() (int64, error) {
	res, err := c.db.Exec("DELETE FROM widget_cache WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune widget cache: %w", err)
	}
	return res.RowsAffected()
}
