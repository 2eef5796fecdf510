package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"Certifier/internal/authority"
	"Certifier/internal/committee"
	"Certifier/internal/crypto"
	"Certifier/internal/genesis"
	"Certifier/internal/logger"
	"Certifier/internal/network"
	"Certifier/internal/storage"
	"Certifier/internal/transport"
)

// Authority is a running committee member.
type Authority struct {
	cfg     *Config                 // cfg is the authority configuration
	name    committee.AuthorityName // name is this authority's identity
	storage *storage.Storage        // storage persists objects, locks and certificates
	state   *authority.State        // state answers orders and certificates
	network *network.Node           // network serves requests over QUIC
}

// NewAuthority opens storage, installs genesis and prepares the network node.
func NewAuthority(cfg *Config, key ed25519.PrivateKey) (*Authority, error) {
	gen, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return nil, fmt.Errorf("load genesis:\n%w", err)
	}

	blsKey, err := crypto.DeriveFromED25519(key)
	if err != nil {
		return nil, fmt.Errorf("derive signing key:\n%w", err)
	}

	name, err := committee.NameFromBytes(blsKey.PublicKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("authority name:\n%w", err)
	}

	if !gen.Committee().Contains(name) {
		return nil, fmt.Errorf("authority %s is not a member of epoch %d", name.Short(), gen.Committee().Epoch())
	}

	a := &Authority{cfg: cfg, name: name}

	if err := a.initStorage(); err != nil {
		return nil, err
	}

	if err := a.initState(blsKey, gen); err != nil {
		a.Close()
		return nil, err
	}

	a.network, err = network.NewNode(network.Config{
		PrivateKey:           key,
		ListenAddr:           cfg.QUICAddress,
		CompressionThreshold: cfg.CompressionThreshold,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create network node:\n%w", err)
	}

	return a, nil
}

// initStorage opens the pebble database under the data directory.
func (a *Authority) initStorage() error {
	if err := os.MkdirAll(a.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	db, err := storage.New(filepath.Join(a.cfg.DataPath, "db"))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	a.storage = db

	return nil
}

// initState creates the authority state and installs genesis objects on first start.
func (a *Authority) initState(key *crypto.BLSKeyPair, gen *genesis.Genesis) error {
	state, err := authority.New(authority.Config{
		Name:      a.name,
		Key:       key,
		Committee: gen.Committee(),
		Store:     a.storage,
		CacheSize: a.cfg.CacheSize,
	})
	if err != nil {
		return fmt.Errorf("create authority state:\n%w", err)
	}

	if _, err := state.InstallGenesis(gen.Objects()); err != nil {
		return fmt.Errorf("install genesis:\n%w", err)
	}

	a.state = state

	return nil
}

// Run serves requests until SIGINT or SIGTERM.
func (a *Authority) Run() error {
	transport.Serve(a.network, authority.NewLocalClient(a.state))

	if err := a.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	logger.Info("authority started",
		"name", a.name.Short(),
		"quic", a.network.Addr(),
		"data", a.cfg.DataPath,
	)

	return a.waitForShutdown()
}

// waitForShutdown blocks until a termination signal arrives.
func (a *Authority) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return a.Close()
}

// Close shuts down the network and storage.
func (a *Authority) Close() error {
	if a.network != nil {
		a.network.Close()
	}

	if a.storage != nil {
		return a.storage.Close()
	}

	return nil
}
