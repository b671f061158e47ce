package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/circuit"
	"tradepipe/pkg/exchange/binance"
	"tradepipe/pkg/types"
)

// ExchangeClient is the signed REST surface the live adapter needs.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, o types.Order) (binance.OrderFill, error)
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (binance.OrderFill, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}

// Live places orders on the real exchange. Transient failures (5xx,
// transport) feed the circuit breaker; client errors do not, a rejected
// order is the venue working as intended.
type Live struct {
	client  ExchangeClient
	breaker *circuit.Breaker
	log     zerolog.Logger
	now     func() time.Time
}

// NewLive wires the live adapter over a signed exchange client.
func NewLive(client ExchangeClient, breaker *circuit.Breaker, log zerolog.Logger) *Live {
	return &Live{
		client:  client,
		breaker: breaker,
		log:     log.With().Str("adapter", "live").Logger(),
		now:     time.Now,
	}
}

func (a *Live) Name() string { return "live" }

// Breaker exposes the adapter's circuit for health checks and fallback.
func (a *Live) Breaker() *circuit.Breaker { return a.breaker }

func (a *Live) PlaceOrder(ctx context.Context, o types.Order) (types.Order, error) {
	if err := a.breaker.Allow(); err != nil {
		return o, fmt.Errorf("live adapter: %w", err)
	}
	fill, err := a.client.PlaceOrder(ctx, o)
	if err != nil {
		a.observe(err)
		return o, fmt.Errorf("place %s %s: %w", o.Side, o.Symbol, err)
	}
	a.breaker.Success()
	return a.applied(o, fill), nil
}

func (a *Live) QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (types.Order, error) {
	if err := a.breaker.Allow(); err != nil {
		return types.Order{}, fmt.Errorf("live adapter: %w", err)
	}
	fill, err := a.client.QueryOrder(ctx, symbol, exchangeOrderID)
	if err != nil {
		a.observe(err)
		return types.Order{}, err
	}
	a.breaker.Success()
	o := types.Order{Symbol: symbol}
	return a.applied(o, fill), nil
}

func (a *Live) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	if err := a.breaker.Allow(); err != nil {
		return fmt.Errorf("live adapter: %w", err)
	}
	if err := a.client.CancelOrder(ctx, symbol, exchangeOrderID); err != nil {
		a.observe(err)
		return err
	}
	a.breaker.Success()
	return nil
}

// observe counts only transient failures against the breaker.
func (a *Live) observe(err error) {
	if binance.IsServerError(err) {
		a.breaker.Failure()
		return
	}
	a.breaker.Success()
}

func (a *Live) applied(o types.Order, fill binance.OrderFill) types.Order {
	o.ExchangeOrderID = fill.ExchangeOrderID
	if fill.ExecutedQty.GreaterThan(decimal.Zero) {
		o.ApplyFill(fill.ExecutedQty, fill.AvgFillPrice, a.now().UTC())
	}
	// The venue's verdict wins for non-fill transitions.
	if fill.Status.Terminal() || o.Status == types.StatusNew {
		o.Status = fill.Status
	}
	return o
}
