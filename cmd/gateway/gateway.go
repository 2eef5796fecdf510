package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"Certifier/internal/api"
	"Certifier/internal/committee"
	"Certifier/internal/genesis"
	"Certifier/internal/logger"
	"Certifier/internal/network"
	"Certifier/internal/quorum"
	"Certifier/internal/transport"
)

// Gateway drives quorum operations for HTTP clients.
type Gateway struct {
	cfg     *Config                                       // cfg is the gateway configuration
	network *network.Node                                 // network dials the authorities
	clients map[committee.AuthorityName]*transport.Client // clients reach each authority
	api     *api.Server                                   // api serves the HTTP endpoints
}

// NewGateway loads the committee and connects the quorum engine to it.
func NewGateway(cfg *Config, key ed25519.PrivateKey) (*Gateway, error) {
	gen, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis:\n%w", err)
	}

	node, err := network.NewNode(network.Config{
		PrivateKey:           key,
		CompressionThreshold: cfg.CompressionThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("create network node:\n%w", err)
	}

	g := &Gateway{
		cfg:     cfg,
		network: node,
		clients: transport.NewClients(node, gen.Endpoints()),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	clients := make(map[committee.AuthorityName]quorum.AuthorityClient, len(g.clients))
	for name, c := range g.clients {
		clients[name] = c
	}

	agg, err := quorum.New(gen.Committee(), clients, cfg.Quorum, quorum.NewMetrics(reg))
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("create aggregator:\n%w", err)
	}

	g.api = api.New(api.Config{
		Addr:             cfg.HTTPAddress,
		OperationTimeout: cfg.OperationTimeout,
		Gatherer:         reg,
	}, agg)

	logger.Info("committee loaded",
		"epoch", gen.Committee().Epoch(),
		"authorities", gen.Committee().Len(),
		"quorum", gen.Committee().QuorumThreshold(),
	)

	return g, nil
}

// Run serves the API until SIGINT or SIGTERM.
func (g *Gateway) Run() error {
	if err := g.api.Start(); err != nil {
		g.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	logger.Info("gateway started", "http", g.cfg.HTTPAddress)

	return g.waitForShutdown()
}

// waitForShutdown blocks until a termination signal arrives.
func (g *Gateway) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return g.Close()
}

// Close stops the API and drops every authority connection.
func (g *Gateway) Close() error {
	if g.api != nil {
		g.api.Stop()
	}

	for _, c := range g.clients {
		c.Close()
	}

	if g.network != nil {
		return g.network.Close()
	}

	return nil
}
