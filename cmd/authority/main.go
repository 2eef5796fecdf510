package main

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"Certifier/internal/crypto"
	"Certifier/internal/genesis"
	"Certifier/internal/logger"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg := parseFlags()

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	key, err := crypto.LoadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	if cfg.Identity {
		return printIdentity(cfg, key)
	}

	a, err := NewAuthority(cfg, key)
	if err != nil {
		return fmt.Errorf("create authority:\n%w", err)
	}

	return a.Run()
}

// printIdentity writes the genesis entry for this key to stdout.
func printIdentity(cfg *Config, key ed25519.PrivateKey) error {
	entry, err := genesis.Identity(key, cfg.QUICAddress, cfg.Weight)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(entry)
}
