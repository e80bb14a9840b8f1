package store

import "time"

// Config holds configuration for a DynamoStore.
type Config struct {
	// Table is the name of the document table.
	// Default: "docmux_documents"
	Table string

	// ConsistentReads enables strongly consistent GetItem/Query calls.
	// Default: true
	ConsistentReads bool

	// MaxRetries bounds the retries of a write that lost the optimistic
	// lock on a document's modification count, and of unprocessed batch
	// deletes.
	// Default: 5
	// Max: 20
	MaxRetries int

	// CacheSize is the maximum number of cached documents; the least recently
	// used are evicted first. Zero disables the cache.
	// Default: 4096
	CacheSize int

	// BatchSize is the page size used for range queries and scans.
	// Default: 100
	// Max: 1000
	BatchSize int

	// MaxBackoff caps the exponential backoff between retries.
	// Default: 2s
	MaxBackoff time.Duration
}

// DefaultConfig returns sensible defaults for a single table deployment.
func DefaultConfig() Config {
	return Config{
		Table:           "docmux_documents",
		ConsistentReads: true,
		MaxRetries:      5,
		CacheSize:       4096,
		BatchSize:       100,
		MaxBackoff:      2 * time.Second,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "docmux_documents"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxRetries > 20 {
		c.MaxRetries = 20
	}
	if c.CacheSize < 0 {
		c.CacheSize = 0
	}
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.BatchSize > 1000 {
		c.BatchSize = 1000
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
}
