package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// generateTestKey generates a random ed25519 key pair for testing.
func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startServer starts a listening node that answers with handler.
func startServer(t *testing.T, handler Handler) *Node {
	t.Helper()

	server, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}

	server.OnRequest(handler)

	if err := server.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	return server
}

// newClient creates a dial-only node.
func newClient(t *testing.T) *Node {
	t.Helper()

	client, err := NewNode(Config{PrivateKey: generateTestKey(t)})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

// echo answers every request with its payload prefixed.
func echo(_ context.Context, _ *Peer, data []byte) ([]byte, error) {
	return append([]byte("echo:"), data...), nil
}

// TestNodeStartStop tests starting and stopping a node.
func TestNodeStartStop(t *testing.T) {
	node, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	if err := node.Start(); err != nil {
		t.Fatalf("start node: %v", err)
	}

	if node.Addr() == "" {
		t.Error("started node has no address")
	}

	if err := node.Close(); err != nil {
		t.Fatalf("close node: %v", err)
	}
}

// TestDialOnlyNodeCannotStart tests that a node without address does not listen.
func TestDialOnlyNodeCannotStart(t *testing.T) {
	if err := newClient(t).Start(); err == nil {
		t.Error("expected error starting without listen address")
	}
}

// TestNodeConnect tests connecting with identity verification.
func TestNodeConnect(t *testing.T) {
	server := startServer(t, echo)

	var serverConnected atomic.Bool
	server.OnConnect(func(p *Peer) {
		serverConnected.Store(true)
	})

	client := newClient(t)

	peer, err := client.Connect(context.Background(), server.Addr(), server.PublicKey())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if !bytes.Equal(peer.PublicKey(), server.PublicKey()) {
		t.Error("peer public key mismatch")
	}

	if client.GetPeer(server.PublicKey()) != peer {
		t.Error("GetPeer should return the connected peer")
	}

	deadline := time.Now().Add(time.Second)
	for !serverConnected.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if !serverConnected.Load() {
		t.Error("server did not receive connection")
	}

	if len(client.Peers()) != 1 {
		t.Errorf("client peer count: got %d, want 1", len(client.Peers()))
	}
}

// TestConnectWrongIdentity tests that an unexpected server key is rejected.
func TestConnectWrongIdentity(t *testing.T) {
	server := startServer(t, echo)
	client := newClient(t)

	other := generateTestKey(t).Public().(ed25519.PublicKey)

	_, err := client.Connect(context.Background(), server.Addr(), other)
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}

	if len(client.Peers()) != 0 {
		t.Error("rejected peer should not be registered")
	}
}

// TestRequestResponse tests bidirectional stream request/response.
func TestRequestResponse(t *testing.T) {
	server := startServer(t, echo)

	peer, err := newClient(t).Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	response, err := peer.Request(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if !bytes.Equal(response, []byte("echo:hello")) {
		t.Errorf("response mismatch: got %q", response)
	}
}

// TestConcurrentRequests tests many requests in flight on one connection.
func TestConcurrentRequests(t *testing.T) {
	server := startServer(t, echo)

	peer, err := newClient(t).Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	var wg sync.WaitGroup
	var failures atomic.Int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			msg := []byte(fmt.Sprintf("msg-%d", i))
			resp, err := peer.Request(context.Background(), msg)
			if err != nil || !bytes.Equal(resp, append([]byte("echo:"), msg...)) {
				failures.Add(1)
			}
		}(i)
	}

	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Errorf("%d requests failed", n)
	}
}

// TestLargeCompressedMessage tests a large compressible round trip.
func TestLargeCompressedMessage(t *testing.T) {
	server := startServer(t, func(_ context.Context, _ *Peer, data []byte) ([]byte, error) {
		return data, nil
	})

	peer, err := newClient(t).Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	large := bytes.Repeat([]byte("certificate "), 1<<18)

	resp, err := peer.Request(context.Background(), large)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if !bytes.Equal(resp, large) {
		t.Error("large message corrupted")
	}
}

// TestRequestTimeout tests request timeout handling.
func TestRequestTimeout(t *testing.T) {
	server := startServer(t, func(ctx context.Context, _ *Peer, _ []byte) ([]byte, error) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
		return []byte("late"), nil
	})

	peer, err := newClient(t).Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("hello")); err == nil {
		t.Error("expected timeout error")
	}
}

// TestRequestCancel tests that cancelling the context abandons the request.
func TestRequestCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	server := startServer(t, func(ctx context.Context, _ *Peer, _ []byte) ([]byte, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})

	peer, err := newClient(t).Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err = peer.Request(ctx, []byte("hello"))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
}

// TestHandlerError tests that a failing handler surfaces as a request error.
func TestHandlerError(t *testing.T) {
	server := startServer(t, func(context.Context, *Peer, []byte) ([]byte, error) {
		return nil, errors.New("boom")
	})

	peer, err := newClient(t).Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := peer.Request(ctx, []byte("hello")); err == nil {
		t.Error("expected error from failing handler")
	}
}

// TestNodeDisconnect tests disconnect detection.
func TestNodeDisconnect(t *testing.T) {
	server := startServer(t, echo)

	disconnected := make(chan struct{}, 1)
	server.OnDisconnect(func(*Peer) {
		disconnected <- struct{}{}
	})

	client := newClient(t)

	peer, err := client.Connect(context.Background(), server.Addr(), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Make sure the server registered the connection
	if _, err := peer.Request(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("request: %v", err)
	}

	peer.Close()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the disconnect")
	}

	if !peer.Closed() {
		t.Error("closed peer reports open")
	}

	if _, err := peer.Request(context.Background(), []byte("ping")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
