package authority

import (
	"context"

	"Certifier/internal/messages"
)

// LocalClient serves authority requests from an in-process State.
type LocalClient struct {
	state *State
}

// NewLocalClient wraps a state.
func NewLocalClient(state *State) *LocalClient {
	return &LocalClient{state: state}
}

// State returns the wrapped state.
func (c *LocalClient) State() *State {
	return c.state
}

// HandleOrder votes for an order unless ctx is already done.
func (c *LocalClient) HandleOrder(ctx context.Context, order *messages.Order) (*messages.OrderInfoResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.state.HandleOrder(order)
}

// HandleConfirmationOrder executes a certificate unless ctx is already done.
func (c *LocalClient) HandleConfirmationOrder(ctx context.Context, conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.state.HandleConfirmationOrder(conf)
}

// HandleAccountInfoRequest lists the objects an address owns.
func (c *LocalClient) HandleAccountInfoRequest(ctx context.Context, req *messages.AccountInfoRequest) (*messages.AccountInfoResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.state.HandleAccountInfoRequest(req)
}

// HandleObjectInfoRequest returns an object and its lock or history.
func (c *LocalClient) HandleObjectInfoRequest(ctx context.Context, req *messages.ObjectInfoRequest) (*messages.ObjectInfoResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.state.HandleObjectInfoRequest(req)
}

// HandleOrderInfoRequest returns the vote, certificate and effects of an order.
func (c *LocalClient) HandleOrderInfoRequest(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.state.HandleOrderInfoRequest(req)
}
