package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tradepilot/tradepilot/pkg/types"
)

var log = logrus.WithField("component", "paper_broker")

// paperOrder is one resting order on the simulated book.
type paperOrder struct {
	spec   types.OrderSpec
	detail types.OrderDetail
}

// PaperBroker simulates a broker for dry-run mode and tests. Limit and
// stop orders rest until a Tick touches their level; market orders fill
// immediately at the last quote. No partial fills.
type PaperBroker struct {
	mu     sync.Mutex
	orders map[string]*paperOrder
	quotes map[string]float64
}

func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders: make(map[string]*paperOrder),
		quotes: make(map[string]float64),
	}
}

// SetQuote updates the last traded price for an instrument without
// filling resting orders.
func (b *PaperBroker) SetQuote(instrumentKey string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[instrumentKey] = price
}

func (b *PaperBroker) PlaceOrder(_ context.Context, spec types.OrderSpec) (*types.OrderResult, error) {
	if spec.Quantity <= 0 {
		return nil, NewError("invalid_quantity", "quantity %d must be positive", spec.Quantity)
	}

	switch spec.Type {
	case types.OrderTypeLimit:
		if spec.Price <= 0 {
			return nil, NewError("invalid_price", "limit order needs a positive price")
		}
	case types.OrderTypeStopMarket:
		if spec.TriggerPrice <= 0 {
			return nil, NewError("invalid_trigger", "stop order needs a positive trigger price")
		}
	case types.OrderTypeMarket:
	default:
		return nil, NewError("invalid_type", "unsupported order type %q", spec.Type)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := &paperOrder{
		spec: spec,
		detail: types.OrderDetail{
			OrderID: uuid.NewString(),
			Status:  types.OrderStatusOpen,
		},
	}

	switch spec.Type {
	case types.OrderTypeStopMarket:
		o.detail.Status = types.OrderStatusTriggerPending

	case types.OrderTypeMarket:
		price, ok := b.quotes[spec.InstrumentKey]
		if !ok {
			price = spec.Price
		}
		if price <= 0 {
			return nil, NewError("no_quote", "no quote for %s to fill market order", spec.InstrumentKey)
		}
		o.fill(price)
	}

	b.orders[o.detail.OrderID] = o
	log.Debugf("placed %s %s %s qty=%d status=%s", spec.Symbol, spec.Side, spec.Type, spec.Quantity, o.detail.Status)

	return &types.OrderResult{OrderID: o.detail.OrderID}, nil
}

func (b *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return NewError("unknown_order", "order %s not found", orderID)
	}

	if o.detail.Status.IsTerminal() {
		return NewError("order_terminal", "order %s is already %s", orderID, o.detail.Status)
	}

	o.detail.Status = types.OrderStatusCancelled
	return nil
}

func (b *PaperBroker) GetOrderDetails(_ context.Context, orderID string) (*types.OrderDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return nil, NewError("unknown_order", "order %s not found", orderID)
	}

	detail := o.detail
	return &detail, nil
}

// Tick moves the simulated market: it updates the instrument's quote and
// fills every resting order whose level the new price touches. A gap
// through both legs of a bracket fills both, which is exactly the race the
// order monitor has to correct.
func (b *PaperBroker) Tick(instrumentKey string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.quotes[instrumentKey] = price

	for _, o := range b.orders {
		if o.spec.InstrumentKey != instrumentKey || o.detail.Status.IsTerminal() {
			continue
		}

		switch o.spec.Type {
		case types.OrderTypeLimit:
			if o.spec.Side == types.OrderSideBuy && price <= o.spec.Price {
				o.fill(o.spec.Price)
			}
			if o.spec.Side == types.OrderSideSell && price >= o.spec.Price {
				o.fill(o.spec.Price)
			}

		case types.OrderTypeStopMarket:
			if o.spec.Side == types.OrderSideSell && price <= o.spec.TriggerPrice {
				o.fill(o.spec.TriggerPrice)
			}
			if o.spec.Side == types.OrderSideBuy && price >= o.spec.TriggerPrice {
				o.fill(o.spec.TriggerPrice)
			}
		}
	}
}

func (o *paperOrder) fill(price float64) {
	o.detail.Status = types.OrderStatusComplete
	o.detail.AveragePrice = price
	o.detail.FilledQuantity = o.spec.Quantity
}
