package main

import (
	"flag"
)

// Config holds the authority configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// QUICAddress is the QUIC listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 network key file.
	KeyPath string

	// GenesisPath is the path to the genesis file.
	GenesisPath string

	// LogLevel is the minimum log level.
	LogLevel string

	// CacheSize bounds the in-memory object cache.
	CacheSize int

	// CompressionThreshold is the smallest frame compressed on the wire.
	CompressionThreshold int

	// Identity prints this authority's genesis entry and exits.
	Identity bool

	// Weight is the voting weight written by -identity.
	Weight uint64
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC listen address")
	flag.StringVar(&cfg.KeyPath, "key", "./authority.key", "Ed25519 network key path (generated if missing)")
	flag.StringVar(&cfg.GenesisPath, "genesis", "./genesis.json", "Genesis file path")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	flag.IntVar(&cfg.CacheSize, "cache", 4096, "Object cache size")
	flag.IntVar(&cfg.CompressionThreshold, "compress", 1024, "Smallest frame compressed with zstd (negative disables)")
	flag.BoolVar(&cfg.Identity, "identity", false, "Print this authority's genesis entry and exit")
	flag.Uint64Var(&cfg.Weight, "weight", 1, "Voting weight printed by -identity")
	flag.Parse()

	return cfg
}
