package outbox

import (
	"context"
	"time"
)

// Store is the relay's view of the outbox table. Implementations return
// *StorageError for connectivity or constraint failures.
//
// FindPending and FindFailed order oldest created_at first. No cross-instance
// exclusion is attempted: if several processors run against the same table,
// delivery stays at-least-once and consumers dedup by messageId.
type Store interface {
	FindPending(ctx context.Context, limit int) ([]Event, error)
	FindFailed(ctx context.Context, limit, maxRetries int) ([]Event, error)
	MarkSent(ctx context.Context, ids []string) error
	MarkFailed(ctx context.Context, ids []string) error
	CountByStatus(ctx context.Context, status Status) (int64, error)
	DeleteSentOlderThan(ctx context.Context, days int) (int64, error)
}

// Publisher performs one confirmed publish per call. A nil return means the
// broker acknowledged the message; anything else is treated as a failed
// attempt for that event alone.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	IsConnected() bool
}

// Config carries every relay knob; see Default for the baseline values.
type Config struct {
	BatchSize         int
	MaxRetries        int
	TickInterval      time.Duration
	StartupDelay      time.Duration
	RetentionDays     int
	RetentionInterval time.Duration
	MetricsInterval   time.Duration
	PendingWarn       int64
	FailedWarn        int64
}

func Default() Config {
	return Config{
		BatchSize:         50,
		MaxRetries:        3,
		TickInterval:      10 * time.Second,
		StartupDelay:      5 * time.Second,
		RetentionDays:     30,
		RetentionInterval: 24 * time.Hour,
		MetricsInterval:   5 * time.Minute,
		PendingWarn:       1000,
		FailedWarn:        100,
	}
}

// withDefaults fills zero fields so a partially populated Config behaves.
func (c Config) withDefaults() Config {
	d := Default()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = d.StartupDelay
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = d.RetentionDays
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = d.RetentionInterval
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.PendingWarn <= 0 {
		c.PendingWarn = d.PendingWarn
	}
	if c.FailedWarn <= 0 {
		c.FailedWarn = d.FailedWarn
	}
	return c
}
