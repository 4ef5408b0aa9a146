package broker

import (
	"context"
	"fmt"

	"github.com/tradepilot/tradepilot/pkg/types"
)

// Client is the order-routing boundary. Implementations own their own
// retry and backoff policy; callers only react to the final outcome of
// each call.
type Client interface {
	PlaceOrder(ctx context.Context, spec types.OrderSpec) (*types.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderDetails(ctx context.Context, orderID string) (*types.OrderDetail, error)
}

// Error is a broker-level rejection with a stable code for operator
// messages.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker: %s: %s", e.Code, e.Message)
}

func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
