package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/cache"
	"tradepipe/pkg/types"
)

// Paper simulates fills at the latest cached tick price. An order for a
// symbol with no cached price fails: filling at an invented price would
// poison the paper books. Fills are immediate and full, with a synthetic
// PAPER- exchange id, and indexed in memory for query/cancel.
type Paper struct {
	cache   cache.Cache
	latency time.Duration
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool

	mu     sync.Mutex
	orders map[string]types.Order // exchange id -> order
}

// NewPaper creates a paper adapter filling at cached prices.
func NewPaper(c cache.Cache, latency time.Duration, log zerolog.Logger) *Paper {
	return &Paper{
		cache:   c,
		latency: latency,
		log:     log.With().Str("adapter", "paper").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
		orders:  make(map[string]types.Order),
	}
}

func (a *Paper) Name() string { return "paper" }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *Paper) PlaceOrder(ctx context.Context, o types.Order) (types.Order, error) {
	if !a.sleep(ctx, a.latency) {
		return o, ctx.Err()
	}

	raw, err := a.cache.Get(ctx, cache.LatestPriceKey(o.Symbol))
	if err != nil {
		return o, fmt.Errorf("paper fill %s: no cached price: %w", o.Symbol, err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return o, fmt.Errorf("paper fill %s: bad cached price %q: %w", o.Symbol, raw, err)
	}

	o.ExchangeOrderID = "PAPER-" + uuid.NewString()
	o.ApplyFill(o.Quantity, price, a.now().UTC())

	a.mu.Lock()
	a.orders[o.ExchangeOrderID] = o
	a.mu.Unlock()

	a.log.Debug().Str("symbol", o.Symbol).Str("price", price.String()).
		Str("exchangeOrderId", o.ExchangeOrderID).Msg("paper fill")
	return o, nil
}

func (a *Paper) QueryOrder(_ context.Context, _ string, exchangeOrderID string) (types.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[exchangeOrderID]
	if !ok {
		return types.Order{}, fmt.Errorf("paper order %s not found", exchangeOrderID)
	}
	return o, nil
}

func (a *Paper) CancelOrder(_ context.Context, _ string, exchangeOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[exchangeOrderID]
	if !ok {
		return fmt.Errorf("paper order %s not found", exchangeOrderID)
	}
	if !o.Status.Terminal() {
		o.Status = types.StatusCanceled
		at := a.now().UTC()
		o.UpdatedAt = &at
		a.orders[exchangeOrderID] = o
	}
	return nil
}
