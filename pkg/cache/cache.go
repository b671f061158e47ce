// Package cache provides the shared key/value cache the services exchange
// snapshots through, plus the out-of-band pub/sub channel used for gateway
// fan-out. The production implementation is redis; tests use the in-memory
// one.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Well-known keys and channels. Every write into the shared cache carries an
// explicit TTL.
const (
	PortfolioSnapshotKey = "portfolio:snapshot"
	TickChannel          = "market:ticks"

	LatestPriceTTL = 5 * time.Minute
	SnapshotTTL    = 30 * time.Second
)

// LatestPriceKey returns the cache key holding the F8-formatted latest price
// for a symbol.
func LatestPriceKey(symbol string) string { return "price:latest:" + symbol }

// LatestTickKey returns the cache key holding the serialised latest tick for
// a symbol.
func LatestTickKey(symbol string) string { return "tick:latest:" + symbol }

// Cache is the capability set shared by the redis and in-memory backends.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Publish sends a payload on a pub/sub channel, independent of the
	// key/value space.
	Publish(ctx context.Context, channel, payload string) error
	Ping(ctx context.Context) error
	Close() error
}
