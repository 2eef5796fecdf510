// Package network is a QUIC request/response endpoint authenticated by
// ed25519 network keys.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Certifier/internal/logger"
)

const (
	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "certifier/1"

	// defaultIdleTimeout closes connections with no traffic.
	defaultIdleTimeout = 30 * time.Second
)

var (
	// ErrClosed is returned when using a closed peer or node.
	ErrClosed = errors.New("connection closed")

	// ErrIdentityMismatch is returned when a peer presents an unexpected key.
	ErrIdentityMismatch = errors.New("peer identity mismatch")
)

// Handler serves one request from a peer.
type Handler func(ctx context.Context, p *Peer, data []byte) ([]byte, error)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey           ed25519.PrivateKey // PrivateKey is the node's ed25519 network key
	ListenAddr           string             // ListenAddr is the address to listen on (e.g., ":9000"), empty for dial-only nodes
	IdleTimeout          time.Duration      // IdleTimeout closes silent connections
	CompressionThreshold int                // CompressionThreshold is the smallest compressed frame, negative to disable
}

// Node accepts and initiates QUIC connections.
type Node struct {
	privateKey ed25519.PrivateKey // privateKey is the node's ed25519 network key
	publicKey  ed25519.PublicKey  // publicKey is the node's ed25519 public key
	listenAddr string             // listenAddr is the address to listen on
	tlsConfig  *tls.Config        // tlsConfig is the TLS configuration
	quicConfig *quic.Config       // quicConfig is the QUIC configuration
	codec      *codec             // codec frames and compresses messages

	listener *quic.Listener // listener is the QUIC listener

	peers   map[string]*Peer // peers maps public key hex to peer
	peersMu sync.RWMutex     // peersMu protects peers map

	onConnect    func(*Peer) // onConnect is called when a peer connects
	onDisconnect func(*Peer) // onDisconnect is called when a peer disconnects
	onRequest    Handler     // onRequest serves incoming requests
	handlersMu   sync.RWMutex

	ctx    context.Context    // ctx is the node's context
	cancel context.CancelFunc // cancel cancels the node's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// NewNode creates a new network node.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = defaultIdleTimeout
	}

	cert, err := selfSignedCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	codec, err := newCodec(cfg.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // keys are checked against the committee
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  idle,
		KeepAlivePeriod: idle / 3,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PrivateKey.Public().(ed25519.PublicKey),
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		codec:      codec,
		peers:      make(map[string]*Peer),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// PublicKey returns the node's network key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.publicKey
}

// Addr returns the listener's address. Returns empty string if not listening.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start begins accepting connections.
func (n *Node) Start() error {
	if n.listenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	logger.Info("network listening", "addr", n.Addr(), "key", hex.EncodeToString(n.publicKey[:8]))

	return nil
}

// Connect dials addr and checks that the remote presents expect. A nil
// expect accepts any remote key.
func (n *Node) Connect(ctx context.Context, addr string, expect ed25519.PublicKey) (*Peer, error) {
	if n.ctx.Err() != nil {
		return nil, ErrClosed
	}

	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr, expect)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	return peer, nil
}

// Peers returns every connected peer.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// GetPeer returns the peer for the given key, or nil if not connected.
func (n *Node) GetPeer(pubkey ed25519.PublicKey) *Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[hex.EncodeToString(pubkey)]
}

// OnConnect sets the handler called when a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the handler called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler for incoming requests.
func (n *Node) OnRequest(fn Handler) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	peers := n.peers
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	n.wg.Wait()
	n.codec.close()

	return nil
}

// acceptLoop accepts incoming connections.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return // Listener closed
		}

		go n.handleIncoming(conn)
	}
}

// handleIncoming registers an incoming connection.
func (n *Node) handleIncoming(conn *quic.Conn) {
	peer, err := n.setupPeer(conn, conn.RemoteAddr().String(), nil)
	if err != nil {
		logger.Debug("rejected connection", "remote", conn.RemoteAddr(), "error", err)
		conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

// setupPeer creates a Peer from a QUIC connection.
func (n *Node) setupPeer(conn *quic.Conn, addr string, expect ed25519.PublicKey) (*Peer, error) {
	pubKey, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("extract public key:\n%w", err)
	}

	if err := checkIdentity(pubKey, expect); err != nil {
		return nil, err
	}

	peer := &Peer{
		publicKey: pubKey,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	n.peersMu.Lock()
	n.peers[hex.EncodeToString(pubKey)] = peer
	n.peersMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// handlePeerDisconnect forgets a disconnected peer.
func (n *Node) handlePeerDisconnect(p *Peer) {
	keyHex := hex.EncodeToString(p.publicKey)

	n.peersMu.Lock()
	if n.peers[keyHex] == p {
		delete(n.peers, keyHex)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)
}

// callOnConnect calls the onConnect handler if set.
func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnDisconnect calls the onDisconnect handler if set.
func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

// callOnRequest calls the onRequest handler if set.
func (n *Node) callOnRequest(ctx context.Context, p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	return fn(ctx, p, data)
}
