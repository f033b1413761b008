package returns

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"
)

// Loader estimates statistics on a cache miss.
type Loader func(ctx context.Context) (*Stats, error)

// Cache memoizes return statistics in the cache database. Concurrent loads of
// the same key share one call to the loader.
type Cache struct {
	db    *sql.DB
	ttl   time.Duration
	group singleflight.Group
	now   func() time.Time
	log   zerolog.Logger
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(db *sql.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		db:  db,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "returns_cache").Logger(),
	}
}

// Key builds a deterministic cache key. Tickers are sorted so the key does not
// depend on their order.
func Key(source string, tickers []string, start, end time.Time, shrink bool) string {
	sorted := make([]string, len(tickers))
	copy(sorted, tickers)
	sort.Strings(sorted)

	parts := []string{
		source,
		strings.Join(sorted, ","),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
		strconv.FormatBool(shrink),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:16])
}

// Get returns the unexpired entry for key.
func (c *Cache) Get(ctx context.Context, key string) (*Stats, bool, error) {
	var payload []byte
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		"SELECT payload, expires_at FROM return_stats WHERE cache_key = ?", key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read return stats: %w", err)
	}
	if c.now().Unix() >= expiresAt {
		return nil, false, nil
	}

	var stats Stats
	if err := msgpack.Unmarshal(payload, &stats); err != nil {
		return nil, false, fmt.Errorf("failed to decode return stats: %w", err)
	}
	return &stats, true, nil
}

// Put stores stats under key.
func (c *Cache) Put(ctx context.Context, key string, stats *Stats) error {
	payload, err := msgpack.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode return stats: %w", err)
	}

	now := c.now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO return_stats (cache_key, tickers, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			tickers = excluded.tickers,
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, strings.Join(stats.Tickers, ","), payload, now.Unix(), now.Add(c.ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store return stats: %w", err)
	}
	return nil
}

// GetOrLoad returns the cached statistics for key, calling load on a miss.
// The result is ordered like tickers. Cache read and write failures are
// logged and do not fail the call.
func (c *Cache) GetOrLoad(ctx context.Context, key string, tickers []string, load Loader) (*Stats, error) {
	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		stats, ok, err := c.Get(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		if ok {
			c.log.Debug().Str("key", key).Msg("Cache hit")
			return stats, nil
		}

		stats, err = load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Put(ctx, key, stats); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug().Str("key", key).Msg("Shared in-flight load")
	}
	return v.(*Stats).Reorder(tickers)
}

// Purge deletes expired entries and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM return_stats WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge return stats: %w", err)
	}
	return res.RowsAffected()
}
