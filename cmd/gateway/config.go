package main

import (
	"flag"
	"time"

	"Certifier/internal/quorum"
)

// Config holds the gateway configuration.
type Config struct {
	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// GenesisPath is the path to the genesis file.
	GenesisPath string

	// KeyPath is the network key file, empty for an ephemeral key.
	KeyPath string

	// LogLevel is the minimum log level.
	LogLevel string

	// OperationTimeout bounds one API operation end to end.
	OperationTimeout time.Duration

	// CompressionThreshold is the smallest frame compressed on the wire.
	CompressionThreshold int

	// Quorum holds the engine timeouts and retry budgets.
	Quorum quorum.Config
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{Quorum: quorum.DefaultConfig()}

	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API listen address")
	flag.StringVar(&cfg.GenesisPath, "genesis", "./genesis.json", "Genesis file path")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 network key path (ephemeral if empty)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")
	flag.DurationVar(&cfg.OperationTimeout, "op-timeout", 90*time.Second, "Timeout of one API operation")
	flag.IntVar(&cfg.CompressionThreshold, "compress", 1024, "Smallest frame compressed with zstd (negative disables)")

	flag.DurationVar(&cfg.Quorum.RoundTimeout, "round-timeout", cfg.Quorum.RoundTimeout, "Timeout of each call in a quorum round")
	flag.DurationVar(&cfg.Quorum.PostQuorumTimeout, "post-quorum-timeout", cfg.Quorum.PostQuorumTimeout, "Extra wait for confirmations after a quorum")
	flag.DurationVar(&cfg.Quorum.SyncAttemptTimeout, "sync-timeout", cfg.Quorum.SyncAttemptTimeout, "Timeout of one authority sync attempt")
	flag.IntVar(&cfg.Quorum.SyncRetries, "sync-retries", cfg.Quorum.SyncRetries, "Sources tried when syncing a lagging authority")
	flag.DurationVar(&cfg.Quorum.RequestTimeout, "request-timeout", cfg.Quorum.RequestTimeout, "Timeout of single-authority reads")
	flag.IntVar(&cfg.Quorum.SyncConcurrency, "sync-concurrency", cfg.Quorum.SyncConcurrency, "Parallel object syncs per account")
	flag.Parse()

	return cfg
}
