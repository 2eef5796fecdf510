// Package transport carries authority requests over the QUIC network layer.
package transport

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"Certifier/internal/committee"
	"Certifier/internal/logger"
	"Certifier/internal/messages"
	"Certifier/internal/network"
	"Certifier/internal/wire"
)

// Endpoint locates one authority on the network.
type Endpoint struct {
	Name       committee.AuthorityName // Name is the authority's committee identity
	Address    string                  // Address is the authority's QUIC address
	NetworkKey ed25519.PublicKey       // NetworkKey is the key the authority must present
}

// Client sends requests to one remote authority. The connection is dialed
// on first use and redialed after it drops.
type Client struct {
	node     *network.Node // node dials the authority
	endpoint Endpoint      // endpoint is the remote authority

	mu   sync.Mutex    // mu protects peer
	peer *network.Peer // peer is the live connection, nil until dialed
}

// NewClient creates a client for one authority.
func NewClient(node *network.Node, endpoint Endpoint) *Client {
	return &Client{node: node, endpoint: endpoint}
}

// NewClients creates a client for every endpoint, keyed by authority name.
func NewClients(node *network.Node, endpoints []Endpoint) map[committee.AuthorityName]*Client {
	clients := make(map[committee.AuthorityName]*Client, len(endpoints))
	for _, e := range endpoints {
		clients[e.Name] = NewClient(node, e)
	}

	return clients
}

// Endpoint returns the remote authority.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// HandleOrder asks the authority to vote for an order.
func (c *Client) HandleOrder(ctx context.Context, order *messages.Order) (*messages.OrderInfoResponse, error) {
	msg, err := c.call(ctx, wire.KindOrder, order)
	if err != nil {
		return nil, err
	}

	return msg.(*messages.OrderInfoResponse), nil
}

// HandleConfirmationOrder sends a certificate for execution.
func (c *Client) HandleConfirmationOrder(ctx context.Context, conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error) {
	msg, err := c.call(ctx, wire.KindConfirmation, conf)
	if err != nil {
		return nil, err
	}

	return msg.(*messages.OrderInfoResponse), nil
}

// HandleAccountInfoRequest asks for the objects an address owns.
func (c *Client) HandleAccountInfoRequest(ctx context.Context, req *messages.AccountInfoRequest) (*messages.AccountInfoResponse, error) {
	msg, err := c.call(ctx, wire.KindAccountInfo, req)
	if err != nil {
		return nil, err
	}

	return msg.(*messages.AccountInfoResponse), nil
}

// HandleObjectInfoRequest asks for an object and its lock or history.
func (c *Client) HandleObjectInfoRequest(ctx context.Context, req *messages.ObjectInfoRequest) (*messages.ObjectInfoResponse, error) {
	msg, err := c.call(ctx, wire.KindObjectInfo, req)
	if err != nil {
		return nil, err
	}

	return msg.(*messages.ObjectInfoResponse), nil
}

// HandleOrderInfoRequest asks for the stored vote, certificate and effects of an order.
func (c *Client) HandleOrderInfoRequest(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error) {
	msg, err := c.call(ctx, wire.KindOrderInfo, req)
	if err != nil {
		return nil, err
	}

	return msg.(*messages.OrderInfoResponse), nil
}

// call performs one request/response exchange.
// Network failures wrap ErrTransport; remote failures keep their error class.
func (c *Client) call(ctx context.Context, kind wire.Kind, msg any) (any, error) {
	data, err := wire.EncodeRequest(kind, msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s request:\n%w", kind, err)
	}

	peer, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to %s:\n%w", messages.ErrTransport, c.endpoint.Name.Short(), err)
	}

	resp, err := peer.Request(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s request to %s:\n%w", messages.ErrTimeout, kind, c.endpoint.Name.Short(), err)
		}

		return nil, fmt.Errorf("%w: %s request to %s:\n%w", messages.ErrTransport, kind, c.endpoint.Name.Short(), err)
	}

	return wire.DecodeResponse(resp, kind)
}

// connect returns the live connection, dialing if there is none.
func (c *Client) connect(ctx context.Context) (*network.Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer != nil && !c.peer.Closed() {
		return c.peer, nil
	}

	peer, err := c.node.Connect(ctx, c.endpoint.Address, c.endpoint.NetworkKey)
	if err != nil {
		return nil, err
	}

	if c.peer != nil {
		logger.Debug("reconnected to authority", "authority", c.endpoint.Name.Short(), "addr", c.endpoint.Address)
	}

	c.peer = peer

	return peer, nil
}

// Close drops the connection. The next request dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer == nil {
		return nil
	}

	err := c.peer.Close()
	c.peer = nil

	return err
}
