package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"Certifier/internal/logger"
)

const (
	// defaultRequestTimeout bounds requests whose context has no deadline.
	defaultRequestTimeout = 30 * time.Second

	// streamCancelled is the application error code of an abandoned stream.
	streamCancelled quic.StreamErrorCode = 1
)

// Peer is a connection to a remote node.
type Peer struct {
	publicKey ed25519.PublicKey // publicKey is the remote node's network key
	address   string            // address is the remote address
	conn      *quic.Conn        // conn is the underlying QUIC connection
	node      *Node             // node is the parent node
	closed    atomic.Bool       // closed indicates if the peer is closed
}

// PublicKey returns the remote node's network key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Closed reports whether the connection is gone.
func (p *Peer) Closed() bool {
	return p.closed.Load() || p.conn.Context().Err() != nil
}

// Close closes the peer connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	return p.conn.CloseWithError(0, "closed")
}

// Request sends data on a new bidirectional stream and waits for the answer.
// Cancelling ctx abandons the stream.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.Closed() {
		return nil, ErrClosed
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(streamCancelled)
		stream.CancelWrite(streamCancelled)
	})
	defer stop()

	if err := p.node.codec.writeMessage(stream, data); err != nil {
		return nil, requestError(ctx, fmt.Errorf("write request:\n%w", err))
	}

	response, err := p.node.codec.readMessage(stream)
	if err != nil {
		return nil, requestError(ctx, fmt.Errorf("read response:\n%w", err))
	}

	return response, nil
}

// requestError prefers the context error when the caller gave up.
func requestError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w:\n%w", ctx.Err(), err)
	}

	return err
}

// receiveLoop serves incoming streams until the connection ends.
func (p *Peer) receiveLoop() {
	ctx := p.conn.Context()

	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			logger.Debug("connection ended", "peer", p.address, "error", err)
			break
		}

		go p.handleStream(ctx, stream)
	}

	p.handleDisconnect()
}

// handleStream serves one request/response stream.
func (p *Peer) handleStream(ctx context.Context, stream *quic.Stream) {
	defer stream.Close()

	data, err := p.node.codec.readMessage(stream)
	if err != nil {
		logger.Debug("request read error", "peer", p.address, "error", err)
		return
	}

	response, err := p.node.callOnRequest(ctx, p, data)
	if err != nil {
		logger.Debug("request handler failed", "peer", p.address, "error", err)
		stream.CancelWrite(streamCancelled)
		return
	}

	if err := p.node.codec.writeMessage(stream, response); err != nil {
		logger.Debug("response write error", "peer", p.address, "error", err)
	}
}

// handleDisconnect handles peer disconnection.
func (p *Peer) handleDisconnect() {
	p.closed.Store(true)
	p.node.handlePeerDisconnect(p)
}
