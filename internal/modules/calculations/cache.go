// Package calculations memoises estimator results in the calculations database.
package calculations

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a TTL key-value store over the calculation_cache table.
// Values are msgpack encoded. Keys are "<kind>:<hash>".
type Cache struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewCache creates a new cache instance.
func NewCache(db *sql.DB, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		log: log.With().Str("component", "calculation_cache").Logger(),
		now: time.Now,
	}
}

// Get decodes the live entry for key into dest. It reports false when the
// key is absent or expired. An entry that fails to decode is removed.
func (c *Cache) Get(key string, dest interface{}) (bool, error) {
	var value []byte
	var expiresAt int64
	err := c.db.QueryRow("SELECT value, expires_at FROM calculation_cache WHERE key = ?", key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	if c.now().Unix() >= expiresAt {
		return false, nil
	}

	if err := msgpack.Unmarshal(value, dest); err != nil {
		if delErr := c.Delete(key); delErr != nil {
			c.log.Warn().Err(delErr).Str("key", key).Msg("Failed to drop undecodable cache entry")
		}
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	now := c.now()
	_, err = c.db.Exec(`
		INSERT INTO calculation_cache (key, kind, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, kindOf(key), data, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

// Delete removes a cache entry.
func (c *Cache) Delete(key string) error {
	_, err := c.db.Exec("DELETE FROM calculation_cache WHERE key = ?", key)
	return err
}

// DeleteKind removes every entry of one kind, live or expired.
func (c *Cache) DeleteKind(kind string) (int64, error) {
	res, err := c.db.Exec("DELETE FROM calculation_cache WHERE kind = ?", kind)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s cache entries: %w", kind, err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes entries past their expiry.
func (c *Cache) DeleteExpired() (int64, error) {
	res, err := c.db.Exec("DELETE FROM calculation_cache WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of live entries per kind.
func (c *Cache) Count() (map[string]int, error) {
	rows, err := c.db.Query(
		"SELECT kind, COUNT(*) FROM calculation_cache WHERE expires_at > ? GROUP BY kind",
		c.now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

func kindOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}

// CleanupJob purges expired cache entries on a schedule.
type CleanupJob struct {
	cache *Cache
	log   zerolog.Logger
}

// NewCleanupJob creates the expiry job for cache.
func NewCleanupJob(cache *Cache, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		cache: cache,
		log:   log.With().Str("job", "calculation_cache_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "calculation_cache_cleanup"
}

// Run deletes expired entries
func (j *CleanupJob) Run() error {
	removed, err := j.cache.DeleteExpired()
	if err != nil {
		return err
	}
	if removed > 0 {
		j.log.Info().Int64("removed", removed).Msg("Purged expired calculations")
	}
	return nil
}
