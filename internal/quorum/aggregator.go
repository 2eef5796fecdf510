// Package quorum drives requests to a committee of authorities and folds
// their answers into certificates, confirmations and synced state.
package quorum

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"Certifier/internal/committee"
	"Certifier/internal/messages"
)

// AuthorityClient is the request surface of one authority.
type AuthorityClient interface {
	HandleOrder(ctx context.Context, order *messages.Order) (*messages.OrderInfoResponse, error)
	HandleConfirmationOrder(ctx context.Context, conf *messages.ConfirmationOrder) (*messages.OrderInfoResponse, error)
	HandleAccountInfoRequest(ctx context.Context, req *messages.AccountInfoRequest) (*messages.AccountInfoResponse, error)
	HandleObjectInfoRequest(ctx context.Context, req *messages.ObjectInfoRequest) (*messages.ObjectInfoResponse, error)
	HandleOrderInfoRequest(ctx context.Context, req *messages.OrderInfoRequest) (*messages.OrderInfoResponse, error)
}

// Aggregator talks to every authority of a committee.
type Aggregator struct {
	committee *committee.Committee                        // committee is the current epoch's committee
	clients   map[committee.AuthorityName]AuthorityClient // clients holds one client per member
	config    Config                                      // config holds timeouts and retries
	metrics   *Metrics                                    // metrics records rounds and syncs

	rngMu sync.Mutex // rngMu protects rng
	rng   *rand.Rand // rng drives shuffles and stake-weighted sampling
}

// New creates an aggregator. Every committee member needs a client.
func New(c *committee.Committee, clients map[committee.AuthorityName]AuthorityClient, cfg Config, metrics *Metrics) (*Aggregator, error) {
	for _, name := range c.Names() {
		if _, ok := clients[name]; !ok {
			return nil, fmt.Errorf("no client for authority %s", name.Short())
		}
	}

	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Aggregator{
		committee: c,
		clients:   clients,
		config:    cfg,
		metrics:   metrics,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Committee returns the committee the aggregator serves.
func (a *Aggregator) Committee() *committee.Committee {
	return a.committee
}

// Config returns the aggregator configuration.
func (a *Aggregator) Config() Config {
	return a.config
}

// namedClient pairs a client with its authority.
type namedClient struct {
	name   committee.AuthorityName
	client AuthorityClient
}

// shuffledClients returns every client in random order.
func (a *Aggregator) shuffledClients() []namedClient {
	names := a.committee.Names()

	a.rngMu.Lock()
	a.rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	a.rngMu.Unlock()

	out := make([]namedClient, len(names))
	for i, name := range names {
		out[i] = namedClient{name: name, client: a.clients[name]}
	}

	return out
}

// sampleSources picks up to n distinct candidates, weighted by stake.
func (a *Aggregator) sampleSources(candidates []committee.AuthorityName, n int) []committee.AuthorityName {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()

	return a.committee.SampleFrom(a.rng, candidates, n)
}
