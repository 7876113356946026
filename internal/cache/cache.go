// Package cache wraps the Redis surface the service uses: the provider geo
// index, hot job detail, location trails, throttle locks, and pub/sub.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Well-known key prefixes.
const (
	KeyProviderGeo = "geo:providers"       // geo set of online provider positions
	KeyJobDetail   = "job:detail:"         // + job id, hash of hot fields
	KeyJobTrack    = "job:track:"          // + job id, list of location points
	KeyLocThrottle = "loc:throttle:"       // + provider id, throttle lock
	ChanEmergency  = "broadcast:emergency" // emergency job fan-out
)

// GeoHit is one member of a radius query with its distance.
type GeoHit struct {
	Member     string
	DistanceKm float64
}

// Cache is the typed Redis adapter.
type Cache struct {
	rdb *redis.Client
}

// Open connects from a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{rdb: rdb}, nil
}

// New wraps an existing client, mainly for tests with miniredis-style fakes.
func New(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

// Client exposes the raw client for collaborators that manage their own
// keyspace, like the socket.io adapter.
func (c *Cache) Client() *redis.Client { return c.rdb }

func (c *Cache) Close() error { return c.rdb.Close() }

// ---- geo index ----

// GeoAdd upserts a member's position in a geo set.
func (c *Cache) GeoAdd(ctx context.Context, key, member string, lat, lng float64) error {
	return c.rdb.GeoAdd(ctx, key, &redis.GeoLocation{
		Name:      member,
		Latitude:  lat,
		Longitude: lng,
	}).Err()
}

// GeoRemove drops a member from a geo set.
func (c *Cache) GeoRemove(ctx context.Context, key, member string) error {
	return c.rdb.ZRem(ctx, key, member).Err()
}

// GeoSearchKm returns members within radiusKm of (lat, lng), nearest first.
func (c *Cache) GeoSearchKm(ctx context.Context, key string, lat, lng, radiusKm float64) ([]GeoHit, error) {
	locs, err := c.rdb.GeoSearchLocation(ctx, key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	hits := make([]GeoHit, len(locs))
	for i, l := range locs {
		hits[i] = GeoHit{Member: l.Name, DistanceKm: l.Dist}
	}
	return hits, nil
}

// ---- hot detail ----

// HSetTTL writes a hash and refreshes its expiry in one round trip.
func (c *Cache) HSetTTL(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error {
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// HGetAll reads a hash; an expired or missing key returns an empty map.
func (c *Cache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// ---- bounded trails ----

// PushTrim appends to a list and keeps only the newest max entries.
func (c *Cache) PushTrim(ctx context.Context, key, value string, max int64) error {
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, key, value)
	pipe.LTrim(ctx, key, -max, -1)
	_, err := pipe.Exec(ctx)
	return err
}

// ListAll returns the full contents of a bounded list, oldest first.
func (c *Cache) ListAll(ctx context.Context, key string) ([]string, error) {
	return c.rdb.LRange(ctx, key, 0, -1).Result()
}

// ---- locks and throttles ----

// SetNX claims a key for ttl. False means someone else holds it.
func (c *Cache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Del removes keys.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// ---- pub/sub ----

// Publish sends a raw payload on a channel.
func (c *Cache) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription the caller drains and closes.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}
