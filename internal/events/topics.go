package events

// Topic names one routing key on the event bus.
type Topic string

// The topic set is fixed; services never invent topics at runtime.
const (
	TopicMarketTick     Topic = "market.tick"
	TopicCandleClosed   Topic = "candle.closed"
	TopicStrategySignal Topic = "strategy.signal"
	TopicOrdersApproved Topic = "orders.approved"
	TopicOrdersExecuted Topic = "orders.executed"
	TopicRiskAlerts     Topic = "risk.alerts"
	TopicKillSwitch     Topic = "killswitch"
	TopicSystemHealth   Topic = "system.health"
)
