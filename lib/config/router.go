package config

import "time"

// Offline storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// RouterConfig is the complete configuration of a stanza router.
type RouterConfig struct {
	// LocalDomains are the domains whose accounts are served here. An
	// empty list treats every domain as local.
	LocalDomains []string
	// StoreOffline queues undeliverable chat and normal stanzas instead of
	// answering them with service-unavailable.
	StoreOffline bool

	Retry    RetryConfig
	Dispatch DispatchConfig
	Offline  OfflineConfig
	Accounts AccountsConfig
	Metrics  MetricsConfig
}

// RetryConfig controls redelivery of queued stanzas.
type RetryConfig struct {
	// Budget is the number of attempts per queued stanza
	Budget int
	// AttemptTimeout bounds one delivery attempt, zero disables it
	AttemptTimeout time.Duration
	// Workers run retries off the presence callback, zero runs them inline
	Workers   int
	QueueSize int
	// Rate caps retry starts per second, zero is unlimited
	Rate float64
}

// DispatchConfig controls local delivery.
type DispatchConfig struct {
	// Concurrency bounds parallel deliveries per stanza, zero is unbounded
	Concurrency int
}

// OfflineConfig selects and tunes the offline queue.
type OfflineConfig struct {
	Backend string
	// Path is the SQLite database file
	Path string
	// MaxPerOwner caps each owner's queue, zero is unlimited
	MaxPerOwner int
	// Retention is how long a stanza may stay queued, zero keeps it forever
	Retention     time.Duration
	PurgeInterval time.Duration
}

// AccountsConfig tunes the account existence cache.
type AccountsConfig struct {
	// CacheSize is the number of known owners kept, zero disables caching
	CacheSize int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Address to serve /metrics on, empty disables the endpoint
	Address string
}
