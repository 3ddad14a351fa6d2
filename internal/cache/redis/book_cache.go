package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// bookTTL expires stale mirrors: a dashboard reading the cache after the
// client dies sees nothing rather than a frozen book.
const bookTTL = 5 * time.Minute

// BookCache implements domain.BookCache using Redis. It mirrors point-in-time
// book snapshots and the best bid/offer for external dashboards; the engine's
// in-process book remains the authoritative local copy.
//
// Key schema:
//
//	book:{market}:snapshot - JSON-encoded domain.BookSnapshot
//	book:{market}:bbo      - hash with "bid" and "ask" fields (price ticks)
type BookCache struct {
	rdb *redis.Client
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func snapshotKey(market domain.MarketID) string {
	return "book:" + strconv.FormatInt(int64(market), 10) + ":snapshot"
}

func bboKey(market domain.MarketID) string {
	return "book:" + strconv.FormatInt(int64(market), 10) + ":bbo"
}

// SetSnapshot replaces the mirrored snapshot for a market.
func (c *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal book snapshot %d: %w", snap.Market, err)
	}
	if err := c.rdb.Set(ctx, snapshotKey(snap.Market), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book snapshot %d: %w", snap.Market, err)
	}
	return nil
}

// GetSnapshot reads the mirrored snapshot for a market. Returns
// domain.ErrNotFound when no mirror exists or it has expired.
func (c *BookCache) GetSnapshot(ctx context.Context, market domain.MarketID) (domain.BookSnapshot, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(market)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book snapshot %d: %w", market, err)
	}

	var snap domain.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: unmarshal book snapshot %d: %w", market, err)
	}
	return snap, nil
}

// SetBBO mirrors the best bid and ask price ticks for a market.
func (c *BookCache) SetBBO(ctx context.Context, market domain.MarketID, bestBid, bestAsk int64) error {
	key := bboKey(market)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"bid", strconv.FormatInt(bestBid, 10),
		"ask", strconv.FormatInt(bestAsk, 10),
	)
	pipe.Expire(ctx, key, bookTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set bbo %d: %w", market, err)
	}
	return nil
}

// GetBBO reads the mirrored best bid and ask. Returns domain.ErrNotFound when
// no mirror exists.
func (c *BookCache) GetBBO(ctx context.Context, market domain.MarketID) (bestBid, bestAsk int64, err error) {
	vals, err := c.rdb.HGetAll(ctx, bboKey(market)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %d: %w", market, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseInt(bidStr, 10, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseInt(askStr, 10, 64)
	}
	return bestBid, bestAsk, nil
}
