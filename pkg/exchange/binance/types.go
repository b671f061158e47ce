package binance

import (
	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

// orderResponse is the subset of the exchange's order payload we parse.
// Unknown fields are ignored.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Side                string `json:"side"`
	Type                string `json:"type"`
	Status              string `json:"status"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	Price               string `json:"price"`
	StopPrice           string `json:"stopPrice"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

// apiError is the exchange's error body.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// OrderFill is the parsed execution state of an exchange order.
type OrderFill struct {
	ExchangeOrderID string
	Status          types.OrderStatus
	ExecutedQty     decimal.Decimal
	AvgFillPrice    decimal.Decimal
}

func parseStatus(s string) types.OrderStatus {
	switch s {
	case "NEW":
		return types.StatusNew
	case "PARTIALLY_FILLED":
		return types.StatusPartiallyFilled
	case "FILLED":
		return types.StatusFilled
	case "CANCELED":
		return types.StatusCanceled
	case "REJECTED":
		return types.StatusRejected
	case "EXPIRED":
		return types.StatusExpired
	}
	return types.StatusNew
}

// fill converts the exchange response to an OrderFill. Average fill price is
// cummulativeQuoteQty / executedQty when any quantity executed.
func (r orderResponse) fill() OrderFill {
	executed, _ := decimal.NewFromString(r.ExecutedQty)
	quote, _ := decimal.NewFromString(r.CummulativeQuoteQty)

	avg := decimal.Zero
	if executed.IsPositive() {
		avg = quote.DivRound(executed, 8)
	}
	return OrderFill{
		ExchangeOrderID: formatOrderID(r.OrderID),
		Status:          parseStatus(r.Status),
		ExecutedQty:     executed,
		AvgFillPrice:    avg,
	}
}
