package main

import (
	"fmt"
	"os"

	"Certifier/internal/crypto"
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

	g, err := NewGateway(cfg, key)
	if err != nil {
		return fmt.Errorf("create gateway:\n%w", err)
	}

	return g.Run()
}
