package dispatch

import (
	"time"

	"github.com/rs/zerolog"
)

// Config tunes an Executor. Zero values take the defaults applied by NewExecutor.
type Config struct {
	// Shards is the number of workers. Updates of one chat always land on the same shard.
	Shards int
	// QueueSize bounds each shard's backlog.
	QueueSize int
	// EnqueueTimeout is how long Submit waits for room before giving up.
	EnqueueTimeout time.Duration
	// MaxAttempts is the number of runs per job. 1 disables retries.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxInterval time.Duration

	// ErrorHandler receives the final error of a job. It may be nil.
	ErrorHandler func(key string, err error)
	Logger       zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
}
