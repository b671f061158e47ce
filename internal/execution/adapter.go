// Package execution places approved orders through the active adapter,
// tracks fills and positions, and emits the order lifecycle events.
package execution

import (
	"context"

	"tradepipe/pkg/types"
)

// OrderAdapter is one venue for order flow. PlaceOrder returns the order
// with fill state applied; QueryOrder refreshes it from the venue.
type OrderAdapter interface {
	Name() string
	PlaceOrder(ctx context.Context, o types.Order) (types.Order, error)
	QueryOrder(ctx context.Context, symbol, exchangeOrderID string) (types.Order, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
}
