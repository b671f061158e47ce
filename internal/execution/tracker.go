package execution

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

// Tracker is the in-memory book of orders and positions. It also keeps the
// realised PnL running total that feeds the daily-loss limit.
type Tracker struct {
	mu        sync.Mutex
	orders    map[string]types.Order
	positions map[string]types.Position
	applied   map[string]appliedFill
	realized  decimal.Decimal
}

// appliedFill records how much of an order's cumulative fill has already
// been folded into the position book, so re-reports book only the delta.
type appliedFill struct {
	qty      decimal.Decimal
	notional decimal.Decimal
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		orders:    make(map[string]types.Order),
		positions: make(map[string]types.Position),
		applied:   make(map[string]appliedFill),
	}
}

// Upsert stores the order keyed by internal id.
func (t *Tracker) Upsert(o types.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[o.ID] = o
}

// Get returns an order by internal id.
func (t *Tracker) Get(id string) (types.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[id]
	return o, ok
}

// Pending returns orders still awaiting a terminal status.
func (t *Tracker) Pending() []types.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []types.Order
	for _, o := range t.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Positions returns a copy of the open positions.
func (t *Tracker) Positions() []types.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}

// Realized returns the cumulative realised PnL.
func (t *Tracker) Realized() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realized
}

// ApplyFill folds a filled order into the position book. FilledQuantity is
// cumulative, so only the delta beyond what this order already booked is
// applied; a completion report after a partial fill adds just the remainder.
// A fill against an opposite position closes quantity first, realising PnL;
// any remainder (or a fill with no opposing position) opens or extends a
// position with a volume-weighted entry price. It returns the updated
// position, or nil when the fill closed it entirely.
func (t *Tracker) ApplyFill(o types.Order) *types.Position {
	if o.FilledQuantity.Sign() <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cumQty := o.FilledQuantity
	cumNotional := o.FilledPrice.Mul(cumQty)
	prev := t.applied[o.ID]
	qty := cumQty.Sub(prev.qty)
	if qty.Sign() <= 0 {
		return nil
	}
	// Back out the average price of just the unbooked leg.
	price := cumNotional.Sub(prev.notional).Div(qty)
	if o.Status.Terminal() {
		delete(t.applied, o.ID)
	} else {
		t.applied[o.ID] = appliedFill{qty: cumQty, notional: cumNotional}
	}

	fillSide := types.PositionLong
	if o.Side == types.SideSell {
		fillSide = types.PositionShort
	}

	pos, open := t.positions[o.Symbol]
	if open && pos.Side != fillSide {
		closed := decimal.Min(qty, pos.Quantity)
		diff := price.Sub(pos.EntryPrice)
		if pos.Side == types.PositionShort {
			diff = diff.Neg()
		}
		pnl := diff.Mul(closed)
		t.realized = t.realized.Add(pnl)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity = pos.Quantity.Sub(closed)
		qty = qty.Sub(closed)

		if pos.Quantity.Sign() <= 0 {
			delete(t.positions, o.Symbol)
			open = false
		} else {
			t.positions[o.Symbol] = pos
		}
		if qty.Sign() <= 0 {
			if !open {
				return nil
			}
			cp := pos
			return &cp
		}
	}

	if !open {
		pos = types.Position{
			Symbol:     o.Symbol,
			Side:       fillSide,
			EntryPrice: price,
			Quantity:   qty,
			OpenedAt:   orderTime(o),
		}
	} else {
		total := pos.Quantity.Add(qty)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(qty)).Div(total)
		pos.Quantity = total
	}
	pos.MarkPrice(price)
	t.positions[o.Symbol] = pos
	cp := pos
	return &cp
}

func orderTime(o types.Order) time.Time {
	if o.UpdatedAt != nil {
		return *o.UpdatedAt
	}
	return o.CreatedAt
}

// Mark revalues the position for a symbol at the given price.
func (t *Tracker) Mark(symbol string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice(price)
	t.positions[symbol] = pos
}
