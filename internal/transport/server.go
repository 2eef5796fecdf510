package transport

import (
	"context"
	"fmt"

	"Certifier/internal/logger"
	"Certifier/internal/messages"
	"Certifier/internal/network"
	"Certifier/internal/wire"
)

// Handler answers authority requests. authority.LocalClient implements it.
type Handler interface {
	HandleOrder(ctx context.Context, order *messages.Order) (*messages.OrderInfoResponse, error)
	HandleConfirmationOrder(ctx context.Context, conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error)
	HandleAccountInfoRequest(ctx context.Context, req *messages.AccountInfoRequest) (*messages.AccountInfoResponse, error)
	HandleObjectInfoRequest(ctx context.Context, req *messages.ObjectInfoRequest) (*messages.ObjectInfoResponse, error)
	HandleOrderInfoRequest(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error)
}

// Serve routes every request arriving at node to h.
func Serve(node *network.Node, h Handler) {
	node.OnRequest(func(ctx context.Context, p *network.Peer, data []byte) ([]byte, error) {
		return dispatch(ctx, h, data)
	})
}

// dispatch decodes one request, runs it and encodes the answer.
// Handler failures travel back as error envelopes; only undecodable
// requests fail the stream.
func dispatch(ctx context.Context, h Handler, data []byte) ([]byte, error) {
	kind, msg, err := wire.DecodeRequest(data)
	if err != nil {
		return nil, fmt.Errorf("decode request:\n%w", err)
	}

	var resp any

	switch m := msg.(type) {
	case *messages.Order:
		resp, err = h.HandleOrder(ctx, m)
	case *messages.ConfirmationOrder:
		resp, err = h.HandleConfirmationOrder(ctx, m)
	case *messages.AccountInfoRequest:
		resp, err = h.HandleAccountInfoRequest(ctx, m)
	case *messages.ObjectInfoRequest:
		resp, err = h.HandleObjectInfoRequest(ctx, m)
	case *messages.OrderInfoRequest:
		resp, err = h.HandleOrderInfoRequest(ctx, m)
	default:
		return nil, fmt.Errorf("unroutable %s request %T", kind, msg)
	}

	if err != nil {
		logger.Debug("request rejected", "kind", kind, "error", err)
		return wire.EncodeError(kind, err), nil
	}

	out, err := wire.EncodeResponse(kind, resp)
	if err != nil {
		return wire.EncodeError(kind, err), nil
	}

	return out, nil
}
