// Package ingest turns exchange market data into domain ticks and keeps the
// shared cache fresh. A provider produces ticks; the Service fans them out to
// the event bus, the latest-price cache and the gateway pub/sub channel, and
// switches providers when the stream circuit opens.
package ingest

import (
	"context"

	"tradepipe/pkg/types"
)

// MarketDataProvider pushes ticks into out until ctx is cancelled or the
// provider cannot continue. Run returns ctx.Err() on cancellation and a
// descriptive error otherwise.
type MarketDataProvider interface {
	Name() string
	Run(ctx context.Context, out chan<- types.MarketTick) error
}
