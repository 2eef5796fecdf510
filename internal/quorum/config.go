package quorum

import "time"

// Config holds the timeouts and retry budgets of the aggregator.
type Config struct {
	RoundTimeout       time.Duration // RoundTimeout bounds every call of a quorum round
	PostQuorumTimeout  time.Duration // PostQuorumTimeout waits for stragglers once a confirmation quorum is reached
	SyncAttemptTimeout time.Duration // SyncAttemptTimeout bounds one source-to-destination sync
	SyncRetries        int           // SyncRetries is the number of distinct sources tried per sync
	RequestTimeout     time.Duration // RequestTimeout bounds single-authority reads
	SyncConcurrency    int           // SyncConcurrency caps parallel object syncs in SyncOwnedState
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RoundTimeout:       60 * time.Second,
		PostQuorumTimeout:  5 * time.Second,
		SyncAttemptTimeout: 10 * time.Second,
		SyncRetries:        3,
		RequestTimeout:     30 * time.Second,
		SyncConcurrency:    8,
	}
}
