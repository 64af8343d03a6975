package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu     sync.Mutex
	events map[string]*Event
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string]*Event)}
}

func (s *memStore) add(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := ev
	s.events[ev.ID] = &cp
}

func (s *memStore) get(id string) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

func (s *memStore) find(status Status, limit, maxRetries int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, &StorageError{Op: "find", Err: errors.New("db down")}
	}
	var out []Event
	for _, ev := range s.events {
		if ev.Status != status {
			continue
		}
		if maxRetries > 0 && ev.RetryCount >= maxRetries {
			continue
		}
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) FindPending(_ context.Context, limit int) ([]Event, error) {
	return s.find(StatusPending, limit, 0)
}

func (s *memStore) FindFailed(_ context.Context, limit, maxRetries int) ([]Event, error) {
	return s.find(StatusFailed, limit, maxRetries)
}

func (s *memStore) MarkSent(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		ev := s.events[id]
		ev.Status = StatusSent
		ev.ProcessedAt = &now
	}
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		ev := s.events[id]
		ev.Status = StatusFailed
		ev.RetryCount++
	}
	return nil
}

func (s *memStore) CountByStatus(_ context.Context, status Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ev := range s.events {
		if ev.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeleteSentOlderThan(_ context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	var n int64
	for id, ev := range s.events {
		if ev.Status == StatusSent && ev.ProcessedAt != nil && ev.ProcessedAt.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// scriptPub fails publishes for event IDs listed in failFor, decrementing
// the per-ID budget on each attempt. It records attempt order.
type scriptPub struct {
	mu       sync.Mutex
	failFor  map[string]int
	attempts []string
	block    chan struct{}
}

func newScriptPub() *scriptPub {
	return &scriptPub{failFor: make(map[string]int)}
}

func (p *scriptPub) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	block := p.block
	p.attempts = append(p.attempts, ev.ID)
	remaining := p.failFor[ev.ID]
	if remaining != 0 {
		if remaining > 0 {
			p.failFor[ev.ID] = remaining - 1
		}
		p.mu.Unlock()
		if block != nil {
			<-block
		}
		return &PublishError{EventID: ev.ID, Err: errors.New("nack")}
	}
	p.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (p *scriptPub) IsConnected() bool { return true }

func (p *scriptPub) attemptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attempts)
}

func testProcessor(store Store, pub Publisher, cfg Config) *Processor {
	return NewProcessor(slog.New(slog.NewTextHandler(io.Discard, nil)), store, pub, cfg)
}

func TestFailOnceThenSucceed(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	ev := NewEvent("pub-1", "Publication", "publication.submitted", []byte(`{}`))
	store.add(ev)
	pub.failFor[ev.ID] = 1

	p := testProcessor(store, pub, Config{MaxRetries: 3})

	// First cycle fails the publish; second cycle's retry pass drains it.
	p.runCycle(context.Background())
	p.runCycle(context.Background())

	got := store.get(ev.ID)
	if got.Status != StatusSent {
		t.Fatalf("status=%s, want sent", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ProcessedAt == nil {
		t.Fatal("processedAt not set on sent event")
	}
}

func TestRetryBudgetCapsAtMax(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	ev := NewEvent("pub-2", "Publication", "publication.approved", []byte(`{}`))
	store.add(ev)
	pub.failFor[ev.ID] = -1 // always fail

	p := testProcessor(store, pub, Config{MaxRetries: 3})

	for i := 0; i < 4; i++ {
		p.runCycle(context.Background())
	}
	got := store.get(ev.ID)
	if got.Status != StatusFailed || got.RetryCount != 3 {
		t.Fatalf("status=%s retry=%d, want failed/3", got.Status, got.RetryCount)
	}

	attempts := pub.attemptCount()
	p.runCycle(context.Background())
	if pub.attemptCount() != attempts {
		t.Fatal("dead event was retried past max retries")
	}
	rows, err := store.FindFailed(context.Background(), 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("findFailed returned %d dead rows, want 0", len(rows))
	}
}

func TestBatchIsolation(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		ev := NewEvent(fmt.Sprintf("pub-%d", i), "Publication", "publication.submitted", []byte(`{}`))
		ev.CreatedAt = base.Add(time.Duration(i) * time.Second)
		store.add(ev)
		ids = append(ids, ev.ID)
	}
	pub.failFor[ids[1]] = -1

	p := testProcessor(store, pub, Config{MaxRetries: 3})
	p.runCycle(context.Background())

	for i, id := range ids {
		got := store.get(id)
		if i == 1 {
			if got.Status != StatusFailed || got.RetryCount != 1 {
				t.Fatalf("event %d: status=%s retry=%d, want failed/1", i, got.Status, got.RetryCount)
			}
			continue
		}
		if got.Status != StatusSent {
			t.Fatalf("event %d: status=%s, want sent", i, got.Status)
		}
	}
}

func TestOldestFirstWithinTick(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	base := time.Now().UTC()
	var want []string
	for i := 0; i < 5; i++ {
		ev := NewEvent(fmt.Sprintf("pub-%d", i), "Publication", "publication.submitted", []byte(`{}`))
		ev.CreatedAt = base.Add(time.Duration(5-i) * time.Minute) // insert newest first
		store.add(ev)
		want = append([]string{ev.ID}, want...)
	}

	p := testProcessor(store, pub, Config{})
	p.runCycle(context.Background())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.attempts) != 5 {
		t.Fatalf("attempts = %d, want 5", len(pub.attempts))
	}
	for i := range want {
		if pub.attempts[i] != want[i] {
			t.Fatalf("attempt %d = %s, want %s (not oldest-first)", i, pub.attempts[i], want[i])
		}
	}
}

func TestStorageErrorLeavesStateUntouched(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	ev := NewEvent("pub-1", "Publication", "publication.submitted", []byte(`{}`))
	store.add(ev)
	store.fail = true

	p := testProcessor(store, pub, Config{})
	p.runCycle(context.Background())

	if pub.attemptCount() != 0 {
		t.Fatal("publish attempted despite storage error")
	}
	got := store.get(ev.ID)
	if got.Status != StatusPending || got.RetryCount != 0 {
		t.Fatalf("status=%s retry=%d, want pending/0", got.Status, got.RetryCount)
	}
}

func TestCycleDoesNotOverlapItself(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()
	pub.block = make(chan struct{})

	ev := NewEvent("pub-1", "Publication", "publication.submitted", []byte(`{}`))
	store.add(ev)

	p := testProcessor(store, pub, Config{})

	done := make(chan struct{})
	go func() {
		p.runCycle(context.Background())
		close(done)
	}()

	// Wait for the first cycle to be inside Publish, then tick again.
	for pub.attemptCount() == 0 {
		time.Sleep(time.Millisecond)
	}
	p.runCycle(context.Background())
	if n := pub.attemptCount(); n != 1 {
		t.Fatalf("overlapping cycle published (attempts=%d, want 1)", n)
	}

	close(pub.block)
	<-done
}

func TestRetentionSweep(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	old := NewEvent("pub-old", "Publication", "publication.submitted", []byte(`{}`))
	old.Status = StatusSent
	oldTime := time.Now().UTC().AddDate(0, 0, -40)
	old.ProcessedAt = &oldTime
	store.add(old)

	fresh := NewEvent("pub-new", "Publication", "publication.submitted", []byte(`{}`))
	fresh.Status = StatusSent
	freshTime := time.Now().UTC().AddDate(0, 0, -10)
	fresh.ProcessedAt = &freshTime
	store.add(fresh)

	dead := NewEvent("pub-dead", "Publication", "publication.submitted", []byte(`{}`))
	dead.Status = StatusFailed
	dead.RetryCount = 3
	dead.CreatedAt = time.Now().UTC().AddDate(0, 0, -90)
	store.add(dead)

	p := testProcessor(store, pub, Config{RetentionDays: 30})
	p.runRetention(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.events[old.ID]; ok {
		t.Fatal("40-day-old sent row survived the sweep")
	}
	if _, ok := store.events[fresh.ID]; !ok {
		t.Fatal("10-day-old sent row was deleted")
	}
	if _, ok := store.events[dead.ID]; !ok {
		t.Fatal("non-sent row was deleted by retention")
	}
}

func TestStartStop(t *testing.T) {
	store := newMemStore()
	pub := newScriptPub()

	ev := NewEvent("pub-1", "Publication", "publication.submitted", []byte(`{}`))
	store.add(ev)

	p := testProcessor(store, pub, Config{
		StartupDelay: 5 * time.Millisecond,
		TickInterval: time.Hour,
	})
	p.Start(context.Background())
	defer p.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.get(ev.ID).Status == StatusSent {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("startup catch-up cycle never relayed the pending event")
}
