package quorum

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Certifier/internal/authority/authoritytest"
	"Certifier/internal/committee"
	"Certifier/internal/messages"
)

// testConfig shortens every timeout so failing tests fail fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RoundTimeout = 5 * time.Second
	cfg.PostQuorumTimeout = 200 * time.Millisecond
	cfg.SyncAttemptTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second

	return cfg
}

// instrumentedClient wraps an AuthorityClient, counting and optionally
// overriding calls.
type instrumentedClient struct {
	AuthorityClient

	onOrder     func(ctx context.Context, order *messages.Order) (*messages.OrderInfoResponse, error)
	onConfirm   func(ctx context.Context, conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error)
	onOrderInfo func(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error)

	mu        sync.Mutex
	confirmed []messages.TransactionDigest // confirmed records every confirmation received, in order
	confirms  atomic.Int32
}

func (c *instrumentedClient) HandleOrder(ctx context.Context, order *messages.Order) (*messages.OrderInfoResponse, error) {
	if c.onOrder != nil {
		return c.onOrder(ctx, order)
	}

	return c.AuthorityClient.HandleOrder(ctx, order)
}

func (c *instrumentedClient) HandleConfirmationOrder(ctx context.Context, conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error) {
	c.confirms.Add(1)

	c.mu.Lock()
	c.confirmed = append(c.confirmed, conf.Certificate.Digest())
	c.mu.Unlock()

	if c.onConfirm != nil {
		return c.onConfirm(ctx, conf)
	}

	return c.AuthorityClient.HandleConfirmationOrder(ctx, conf)
}

func (c *instrumentedClient) HandleOrderInfoRequest(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error) {
	if c.onOrderInfo != nil {
		return c.onOrderInfo(ctx, req)
	}

	return c.AuthorityClient.HandleOrderInfoRequest(ctx, req)
}

// history returns the confirmations received so far.
func (c *instrumentedClient) history() []messages.TransactionDigest {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]messages.TransactionDigest(nil), c.confirmed...)
}

// newNetworkAggregator builds an aggregator over in-process authorities.
func newNetworkAggregator(t *testing.T, net *authoritytest.Network) (*Aggregator, []*instrumentedClient) {
	t.Helper()

	clients := make(map[committee.AuthorityName]AuthorityClient, len(net.Names))
	wrapped := make([]*instrumentedClient, len(net.Names))

	for i, name := range net.Names {
		wrapped[i] = &instrumentedClient{AuthorityClient: net.Client(i)}
		clients[name] = wrapped[i]
	}

	agg, err := New(net.Committee, clients, testConfig(), nil)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}

	return agg, wrapped
}

// newFakeAggregator builds an aggregator over named placeholders with the
// given weights. Map functions in engine tests never touch the clients.
func newFakeAggregator(t *testing.T, weights ...uint64) (*Aggregator, []committee.AuthorityName) {
	t.Helper()

	names := make([]committee.AuthorityName, len(weights))
	members := make(map[committee.AuthorityName]uint64, len(weights))
	clients := make(map[committee.AuthorityName]AuthorityClient, len(weights))

	for i, w := range weights {
		names[i][0] = byte(i + 1)
		members[names[i]] = w
		clients[names[i]] = &instrumentedClient{}
	}

	c, err := committee.NewCommittee(0, members)
	if err != nil {
		t.Fatalf("committee: %v", err)
	}

	agg, err := New(c, clients, testConfig(), nil)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}

	return agg, names
}

// indexOf returns the position of name in names.
func indexOf(names []committee.AuthorityName, name committee.AuthorityName) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}

	return -1
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}
