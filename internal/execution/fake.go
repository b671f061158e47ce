package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradepipe/pkg/types"
)

// Fake is a deterministic adapter for tests: every order fills fully at
// FillPrice (or the order price when unset) and every call is recorded.
type Fake struct {
	FillPrice types.MarketTick
	Err       error

	mu       sync.Mutex
	seq      int
	Placed   []types.Order
	Queried  []string
	Canceled []string
}

// NewFake creates a recording fake adapter.
func NewFake() *Fake { return &Fake{} }

func (a *Fake) Name() string { return "fake" }

func (a *Fake) PlaceOrder(_ context.Context, o types.Order) (types.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Placed = append(a.Placed, o)
	if a.Err != nil {
		return o, a.Err
	}
	a.seq++
	o.ExchangeOrderID = fmt.Sprintf("FAKE-%d", a.seq)
	price := a.FillPrice.Price
	if price.IsZero() && o.Price != nil {
		price = *o.Price
	}
	o.ApplyFill(o.Quantity, price, time.Unix(0, 0).UTC())
	return o, nil
}

func (a *Fake) QueryOrder(_ context.Context, symbol, exchangeOrderID string) (types.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Queried = append(a.Queried, exchangeOrderID)
	if a.Err != nil {
		return types.Order{}, a.Err
	}
	return types.Order{Symbol: symbol, ExchangeOrderID: exchangeOrderID, Status: types.StatusFilled}, nil
}

func (a *Fake) CancelOrder(_ context.Context, _, exchangeOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Canceled = append(a.Canceled, exchangeOrderID)
	return a.Err
}
