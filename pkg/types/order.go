package types

// OrderSide is the side of a broker order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) Reverse() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType defines the broker order type.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderStatus is the broker-reported status of an order.
type OrderStatus string

const (
	OrderStatusOpen           OrderStatus = "OPEN"
	OrderStatusTriggerPending OrderStatus = "TRIGGER_PENDING"
	OrderStatusComplete       OrderStatus = "COMPLETE"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRejected       OrderStatus = "REJECTED"
)

// IsTerminal reports whether the broker will never change this status again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusComplete, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderSpec is the engine's request to the broker collaborator. The broker
// client owns serialization, retries and backoff; the engine only consumes
// the outcome.
type OrderSpec struct {
	ClientOrderID string    `json:"clientOrderID"`
	InstrumentKey string    `json:"instrumentKey"`
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Type          OrderType `json:"orderType"`
	Quantity      int64     `json:"quantity"`

	// Price is the limit price; unused for market orders.
	Price float64 `json:"price,omitempty"`

	// TriggerPrice arms stop orders.
	TriggerPrice float64 `json:"triggerPrice,omitempty"`

	// Tag annotates the order for diagnostics ("entry", "stop", "target",
	// "emergency_exit", "race_correction").
	Tag string `json:"tag,omitempty"`
}

// OrderResult is a successful placement acknowledgement.
type OrderResult struct {
	OrderID string `json:"orderID"`
}

// OrderDetail is the broker's view of an order when polled.
type OrderDetail struct {
	OrderID        string      `json:"orderID"`
	Status         OrderStatus `json:"status"`
	AveragePrice   float64     `json:"averagePrice"`
	FilledQuantity int64       `json:"filledQuantity"`
}
