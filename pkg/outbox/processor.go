package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Processor owns the relay's timers: a pending+retry cycle, a retention
// sweep and a metrics report. It is constructed with injected dependencies
// and an explicit Start/Stop lifecycle; no global state.
type Processor struct {
	log       *slog.Logger
	store     Store
	publisher Publisher
	cfg       Config

	busy   atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProcessor(log *slog.Logger, store Store, publisher Publisher, cfg Config) *Processor {
	return &Processor{
		log:       log,
		store:     store,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
	}
}

// Start launches the tick loops. The pending/retry cycle first runs once
// after StartupDelay to catch events written just before a restart, then on
// every TickInterval. Retention and metrics run on their own timers; they
// touch disjoint row sets and need no exclusion against the relay cycle.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.StartupDelay):
			p.runCycle(ctx)
		}
		t := time.NewTicker(p.cfg.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.runCycle(ctx)
			}
		}
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.cfg.RetentionInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.runRetention(ctx)
			}
		}
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.cfg.MetricsInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.runMetrics(ctx)
			}
		}
	}()

	p.log.Info("outbox processor started",
		"tick", p.cfg.TickInterval,
		"batch_size", p.cfg.BatchSize,
		"max_retries", p.cfg.MaxRetries)
}

// Stop cancels the loops and waits for any in-flight tick to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("outbox processor stopped")
}

// runCycle is the pending tick plus the retry pass that follows it. The
// guard keeps a cycle from overlapping its next scheduled run when the
// broker is slow; a skipped tick is made up by the one after.
//
// The retryable set is snapshotted before the pending pass so an event that
// fails during this cycle is not charged a second attempt in the same cycle.
func (p *Processor) runCycle(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		p.log.Debug("relay cycle still in flight, skipping tick")
		return
	}
	defer p.busy.Store(false)

	retryable, err := p.store.FindFailed(ctx, p.cfg.BatchSize, p.cfg.MaxRetries)
	if err != nil {
		p.log.Error("fetch retryable events failed", "err", err)
		retryable = nil
	}

	p.processPending(ctx)
	p.publishBatch(ctx, retryable)
}

func (p *Processor) processPending(ctx context.Context) {
	events, err := p.store.FindPending(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.Error("fetch pending events failed", "err", err)
		return
	}
	p.publishBatch(ctx, events)
}

// publishBatch publishes sequentially and records partial success: each
// event's outcome is independent of the rest of the batch.
func (p *Processor) publishBatch(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}

	var sent, failed []string
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		if err := p.publisher.Publish(ctx, ev); err != nil {
			p.log.Warn("event publish failed",
				"event_id", ev.ID,
				"event_type", ev.EventType,
				"retry_count", ev.RetryCount,
				"err", err)
			failed = append(failed, ev.ID)
			continue
		}
		sent = append(sent, ev.ID)
	}

	if len(sent) > 0 {
		if err := p.store.MarkSent(ctx, sent); err != nil {
			p.log.Error("mark sent failed", "count", len(sent), "err", err)
		} else {
			p.log.Info("events relayed", "count", len(sent))
		}
	}
	if len(failed) > 0 {
		if err := p.store.MarkFailed(ctx, failed); err != nil {
			p.log.Error("mark failed failed", "count", len(failed), "err", err)
		}
	}
}

func (p *Processor) runRetention(ctx context.Context) {
	n, err := p.store.DeleteSentOlderThan(ctx, p.cfg.RetentionDays)
	if err != nil {
		p.log.Error("retention sweep failed", "err", err)
		return
	}
	p.log.Info("retention sweep done", "deleted", n, "older_than_days", p.cfg.RetentionDays)
}

func (p *Processor) runMetrics(ctx context.Context) {
	pending, err := p.store.CountByStatus(ctx, StatusPending)
	if err != nil {
		p.log.Error("outbox metrics failed", "err", err)
		return
	}
	sent, err := p.store.CountByStatus(ctx, StatusSent)
	if err != nil {
		p.log.Error("outbox metrics failed", "err", err)
		return
	}
	failed, err := p.store.CountByStatus(ctx, StatusFailed)
	if err != nil {
		p.log.Error("outbox metrics failed", "err", err)
		return
	}

	p.log.Info("outbox status",
		"pending", pending,
		"sent", sent,
		"failed", failed,
		"broker_connected", p.publisher.IsConnected())

	if pending > p.cfg.PendingWarn {
		p.log.Warn("outbox backlog above threshold", "pending", pending, "threshold", p.cfg.PendingWarn)
	}
	if failed > p.cfg.FailedWarn {
		p.log.Warn("outbox failed count above threshold", "failed", failed, "threshold", p.cfg.FailedWarn)
	}
}
