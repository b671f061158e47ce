// Package types holds the domain model shared by every service in the
// trading pipeline: ticks, candles, signals, orders, positions and the
// portfolio snapshot. Entities cross service boundaries only as serialised
// event payloads or cache entries, never as shared pointers.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketTick is an immutable snapshot of one trade update from the exchange.
type MarketTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// Candle is an immutable OHLCV bar. OpenTime is aligned to an integer
// multiple of the interval from the Unix epoch and CloseTime-OpenTime equals
// the interval.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
	Interval  string          `json:"interval"`
}

// SignalAction is the directional recommendation carried by a TradeSignal.
type SignalAction string

const (
	ActionBuy        SignalAction = "BUY"
	ActionSell       SignalAction = "SELL"
	ActionCloseLong  SignalAction = "CLOSE_LONG"
	ActionCloseShort SignalAction = "CLOSE_SHORT"
)

// Opens reports whether the action opens a new position.
func (a SignalAction) Opens() bool {
	return a == ActionBuy || a == ActionSell
}

// TradeSignal is a strategy's directional recommendation with confidence.
type TradeSignal struct {
	Symbol        string           `json:"symbol"`
	Action        SignalAction     `json:"action"`
	Price         decimal.Decimal  `json:"price"`
	StopLoss      *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit    *decimal.Decimal `json:"takeProfit,omitempty"`
	Strategy      string           `json:"strategy"`
	Confidence    float64          `json:"confidence"`
	// RequestedRiskPercent is the equity fraction the strategy wants to put
	// at risk; zero means "use the configured cap".
	RequestedRiskPercent float64   `json:"requestedRiskPercent,omitempty"`
	CorrelationID        string    `json:"correlationId"`
	Timestamp            time.Time `json:"timestamp"`
}

// OrderSide is the exchange-facing side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType mirrors the exchange's type names.
type OrderType string

const (
	OrderTypeMarket          OrderType = "MARKET"
	OrderTypeLimit           OrderType = "LIMIT"
	OrderTypeStopLoss        OrderType = "STOP_LOSS"
	OrderTypeStopLossLimit   OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTakeProfit      OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitLimit OrderType = "TAKE_PROFIT_LIMIT"
)

// OrderStatus mirrors the exchange's status names.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the status is absorbing: once reached an order
// never transitions again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order represents a trading order through its whole lifecycle
// NEW -> (PARTIALLY_FILLED)* -> FILLED | CANCELED | REJECTED | EXPIRED.
type Order struct {
	ID              string           `json:"id"`
	ExchangeOrderID string           `json:"exchangeOrderId,omitempty"`
	Symbol          string           `json:"symbol"`
	Side            OrderSide        `json:"side"`
	Type            OrderType        `json:"type"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	StopPrice       *decimal.Decimal `json:"stopPrice,omitempty"`
	Status          OrderStatus      `json:"status"`
	FilledQuantity  decimal.Decimal  `json:"filledQuantity"`
	FilledPrice     decimal.Decimal  `json:"filledPrice"`
	Commission      decimal.Decimal  `json:"commission"`
	CorrelationID   string           `json:"correlationId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       *time.Time       `json:"updatedAt,omitempty"`
}

// ApplyFill records a fill, keeping FilledQuantity monotonically
// non-decreasing and never regressing from a terminal status.
func (o *Order) ApplyFill(qty, price decimal.Decimal, at time.Time) {
	if o.Status.Terminal() {
		return
	}
	if qty.GreaterThan(o.FilledQuantity) {
		o.FilledQuantity = qty
		o.FilledPrice = price
	}
	switch {
	case o.FilledQuantity.GreaterThanOrEqual(o.Quantity):
		o.Status = StatusFilled
	case o.FilledQuantity.IsPositive():
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = &at
}

// RemainingQuantity returns the unfilled quantity.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position exists from the first fill on a symbol until the book is flat.
// Related orders are referenced by id only.
type Position struct {
	Symbol        string           `json:"symbol"`
	Side          PositionSide     `json:"side"`
	EntryPrice    decimal.Decimal  `json:"entryPrice"`
	CurrentPrice  decimal.Decimal  `json:"currentPrice"`
	Quantity      decimal.Decimal  `json:"quantity"`
	UnrealizedPnL decimal.Decimal  `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal  `json:"realizedPnl"`
	StopLoss      *decimal.Decimal `json:"stopLoss,omitempty"`
	TakeProfit    *decimal.Decimal `json:"takeProfit,omitempty"`
	OpenedAt      time.Time        `json:"openedAt"`
}

// MarkPrice revalues the position at the given price.
func (p *Position) MarkPrice(price decimal.Decimal) {
	p.CurrentPrice = price
	diff := price.Sub(p.EntryPrice)
	if p.Side == PositionShort {
		diff = diff.Neg()
	}
	p.UnrealizedPnL = diff.Mul(p.Quantity)
}

// PortfolioSnapshot is the periodic cross-service view of the account.
type PortfolioSnapshot struct {
	TotalEquity        decimal.Decimal `json:"totalEquity"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
	TotalUnrealizedPnL decimal.Decimal `json:"totalUnrealizedPnl"`
	TotalRealizedPnL   decimal.Decimal `json:"totalRealizedPnl"`
	DrawdownPercent    float64         `json:"drawdownPercent"`
	OpenPositions      []Position      `json:"openPositions"`
	Timestamp          time.Time       `json:"timestamp"`
}

// RiskLimits holds the runtime-mutable risk configuration. Readers obtain
// a copy through the risk package's lock-free accessor.
type RiskLimits struct {
	MaxRiskPerTradePercent float64 `json:"maxRiskPerTradePercent"`
	MaxDrawdownPercent     float64 `json:"maxDrawdownPercent"`
	MinRiskRewardRatio     float64 `json:"minRiskRewardRatio"`
	MaxOpenPositions       int     `json:"maxOpenPositions"`
	MaxDailyLoss           float64 `json:"maxDailyLoss"`
	KillSwitchEnabled      bool    `json:"killSwitchEnabled"`
}

// DefaultRiskLimits returns the limits used when configuration is silent.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxRiskPerTradePercent: 1.0,
		MaxDrawdownPercent:     10.0,
		MinRiskRewardRatio:     1.5,
		MaxOpenPositions:       5,
		MaxDailyLoss:           5.0,
		KillSwitchEnabled:      true,
	}
}

// TradingMode is the process-wide execution mode.
type TradingMode string

const (
	ModeLive       TradingMode = "LIVE"
	ModePaper      TradingMode = "PAPER"
	ModeBacktest   TradingMode = "BACKTEST"
	ModeSimulation TradingMode = "SIMULATION"
)

// ParseTradingMode maps a config string to a TradingMode, defaulting to paper.
func ParseTradingMode(s string) TradingMode {
	switch TradingMode(s) {
	case ModeLive, ModePaper, ModeBacktest, ModeSimulation:
		return TradingMode(s)
	}
	return ModePaper
}

// HealthStatus is carried by system.health events.
type HealthStatus string

const (
	HealthOK       HealthStatus = "OK"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthDown     HealthStatus = "DOWN"
)

// SystemHealth describes the health of one component.
type SystemHealth struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RiskAlert is published whenever risk validation rejects a signal or an
// order fails downstream.
type RiskAlert struct {
	Symbol    string    `json:"symbol"`
	Reason    string    `json:"reason"`
	Severity  float64   `json:"severity"`
	Strategy  string    `json:"strategy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KillSwitchEvent announces a kill switch transition.
type KillSwitchEvent struct {
	Active          bool      `json:"active"`
	Reason          string    `json:"reason"`
	DrawdownPercent float64   `json:"drawdownPercent"`
	Timestamp       time.Time `json:"timestamp"`
}
