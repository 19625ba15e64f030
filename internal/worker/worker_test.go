package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/queue"
)

// fakeStore записывает вызовы MarkProcessed.
type fakeStore struct {
	mu    sync.Mutex
	notes map[int64]string
	calls int

	// failFirst — сколько первых вызовов завершить ошибкой (-1 — всегда).
	failFirst int

	// block — если не nil, вызов ждёт закрытия канала.
	block chan struct{}

	active    atomic.Int64
	maxActive atomic.Int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{notes: make(map[int64]string)}
}

func (s *fakeStore) MarkProcessed(ctx context.Context, ids []int64, note string) (int64, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		m := s.maxActive.Load()
		if n <= m || s.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failFirst < 0 || s.calls <= s.failFirst {
		return 0, errors.New("store unavailable")
	}
	for _, id := range ids {
		s.notes[id] = note
	}
	return int64(len(ids)), nil
}

func (s *fakeStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingObserver собирает уведомления.
type recordingObserver struct {
	mu        sync.Mutex
	completed []uuid.UUID
	failed    []uuid.UUID
	updated   int64
	events    chan struct{}
}

func newObserver() *recordingObserver {
	return &recordingObserver{events: make(chan struct{}, 100)}
}

func (o *recordingObserver) ItemCompleted(item *domain.QueueItem, updated int64) {
	o.mu.Lock()
	o.completed = append(o.completed, item.ID)
	o.updated += updated
	o.mu.Unlock()
	o.events <- struct{}{}
}

func (o *recordingObserver) ItemFailed(item *domain.QueueItem, _ error) {
	o.mu.Lock()
	o.failed = append(o.failed, item.ID)
	o.mu.Unlock()
	o.events <- struct{}{}
}

func (o *recordingObserver) waitEvents(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-o.events:
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for event %d of %d", i+1, n)
		}
	}
}

// recordingPublisher собирает события.
type recordingPublisher struct {
	mu        sync.Mutex
	completed []mq.BatchCompletedPayload
	failed    []mq.BatchFailedPayload
}

func (p *recordingPublisher) PublishBatchCompleted(_ context.Context, payload mq.BatchCompletedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, payload)
	return nil
}

func (p *recordingPublisher) PublishBatchFailed(_ context.Context, payload mq.BatchFailedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, payload)
	return nil
}

func fastPolicy() queue.Policy {
	return queue.Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
	}
}

func enqueueBatches(t *testing.T, q queue.Queue, lane domain.Lane, batches ...[]int64) {
	t.Helper()
	runID := uuid.New()
	for _, ids := range batches {
		if err := q.Enqueue(context.Background(), domain.NewQueueItem(runID, lane, ids)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
}

func startPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.PollWait == 0 {
		cfg.PollWait = 20 * time.Millisecond
	}
	p := New(cfg)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

// --- Pool Tests ---

func TestPool_ProcessesAllItems(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueHighPriority, fastPolicy())
	store := newFakeStore()
	obs := newObserver()
	pub := &recordingPublisher{}

	enqueueBatches(t, q, domain.LaneHigh, []int64{1, 2}, []int64{3, 4}, []int64{5})

	p := startPool(t, Config{
		Lane:      domain.LaneHigh,
		Queue:     q,
		Store:     store,
		Observer:  obs,
		Publisher: pub,
	})

	obs.waitEvents(t, 3)

	for id := int64(1); id <= 5; id++ {
		if store.notes[id] != domain.LaneHigh.Annotation() {
			t.Errorf("order %d: expected note %q, got %q", id, domain.LaneHigh.Annotation(), store.notes[id])
		}
	}

	if obs.updated != 5 {
		t.Errorf("expected 5 updated records, got %d", obs.updated)
	}

	counts, _ := q.Counts(context.Background())
	if counts.Outstanding() != 0 {
		t.Errorf("queue should be drained: %+v", counts)
	}

	stats := p.Stats()
	if stats.Processed != 3 || stats.Records != 5 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.completed) != 3 {
		t.Errorf("expected 3 batch.completed events, got %d", len(pub.completed))
	}
}

func TestPool_EmptyBatchIsNoop(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueNormal, fastPolicy())
	store := newFakeStore()
	obs := newObserver()

	enqueueBatches(t, q, domain.LaneNormal, []int64{})

	startPool(t, Config{Lane: domain.LaneNormal, Queue: q, Store: store, Observer: obs})
	obs.waitEvents(t, 1)

	if store.Calls() != 0 {
		t.Errorf("store must not be called for empty batch, got %d calls", store.Calls())
	}
	if len(obs.completed) != 1 {
		t.Error("empty batch should be reported as completed")
	}
}

func TestPool_RetriesTransientFailure(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueHighPriority, fastPolicy())
	store := newFakeStore()
	store.failFirst = 1
	obs := newObserver()

	enqueueBatches(t, q, domain.LaneHigh, []int64{7})

	p := startPool(t, Config{Lane: domain.LaneHigh, Queue: q, Store: store, Observer: obs})
	obs.waitEvents(t, 1)

	if len(obs.completed) != 1 || len(obs.failed) != 0 {
		t.Errorf("expected completion after retry: completed=%d failed=%d", len(obs.completed), len(obs.failed))
	}
	if store.Calls() != 2 {
		t.Errorf("expected 2 store calls, got %d", store.Calls())
	}
	if p.Stats().Retried != 1 {
		t.Errorf("expected 1 retry, got %d", p.Stats().Retried)
	}
}

func TestPool_ExhaustedItemReportedAsFailed(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueNormal, fastPolicy())
	store := newFakeStore()
	store.failFirst = -1
	obs := newObserver()
	pub := &recordingPublisher{}

	enqueueBatches(t, q, domain.LaneNormal, []int64{1, 2, 3})

	p := startPool(t, Config{
		Lane:      domain.LaneNormal,
		Queue:     q,
		Store:     store,
		Observer:  obs,
		Publisher: pub,
	})
	obs.waitEvents(t, 1)

	if len(obs.failed) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(obs.failed))
	}
	if store.Calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", store.Calls())
	}

	counts, _ := q.Counts(context.Background())
	if counts.Failed != 1 || counts.Outstanding() != 0 {
		t.Errorf("unexpected counts: %+v", counts)
	}

	stats := p.Stats()
	if stats.Failed != 1 || stats.Retried != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.failed) != 1 || pub.failed[0].Attempts != 3 || pub.failed[0].Records != 3 {
		t.Errorf("unexpected batch.failed events: %+v", pub.failed)
	}
}

func TestPool_ConcurrencyLimit(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueNormal, fastPolicy())
	store := newFakeStore()
	store.block = make(chan struct{})
	obs := newObserver()

	for i := int64(0); i < 8; i++ {
		enqueueBatches(t, q, domain.LaneNormal, []int64{i})
	}

	startPool(t, Config{
		Lane:        domain.LaneNormal,
		Queue:       q,
		Store:       store,
		Observer:    obs,
		Concurrency: 3,
	})

	// Даём циклу занять все слоты
	deadline := time.Now().Add(2 * time.Second)
	for store.active.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(30 * time.Millisecond)

	if got := store.active.Load(); got != 3 {
		t.Errorf("expected 3 active handlers, got %d", got)
	}

	close(store.block)
	obs.waitEvents(t, 8)

	if got := store.maxActive.Load(); got > 3 {
		t.Errorf("concurrency limit exceeded: %d", got)
	}
}

func TestPool_PauseResume(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueNormal, fastPolicy())
	store := newFakeStore()
	obs := newObserver()

	p := New(Config{
		Lane:     domain.LaneNormal,
		Queue:    q,
		Store:    store,
		Observer: obs,
		PollWait: 20 * time.Millisecond,
	})
	p.Pause()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	enqueueBatches(t, q, domain.LaneNormal, []int64{1}, []int64{2})

	time.Sleep(100 * time.Millisecond)
	if store.Calls() != 0 {
		t.Fatalf("paused pool must not process items, got %d calls", store.Calls())
	}
	if !p.Stats().Paused {
		t.Error("stats should report paused")
	}

	p.Resume()
	obs.waitEvents(t, 2)

	if store.Calls() != 2 {
		t.Errorf("expected 2 calls after resume, got %d", store.Calls())
	}
}

func TestPool_Lifecycle(t *testing.T) {
	q := queue.NewMemoryQueue(domain.QueueHighPriority, fastPolicy())
	p := New(Config{Lane: domain.LaneHigh, Queue: q, Store: newFakeStore(), PollWait: 10 * time.Millisecond})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrPoolStarted) {
		t.Errorf("expected ErrPoolStarted, got %v", err)
	}

	p.Stop()
	p.Stop() // повторная остановка — no-op

	if err := p.Start(context.Background()); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

// ctxBlindQueue выполняет Dequeue без учёта отмены контекста вызова,
// как go-redis, который не прерывает уже отправленную команду.
type ctxBlindQueue struct {
	queue.Queue
	entered chan struct{}
}

func (q *ctxBlindQueue) Dequeue(_ context.Context, wait time.Duration) (*domain.QueueItem, error) {
	select {
	case q.entered <- struct{}{}:
	default:
	}
	return q.Queue.Dequeue(context.Background(), wait)
}

func TestPool_ItemDequeuedDuringPauseIsReturned(t *testing.T) {
	inner := queue.NewMemoryQueue(domain.QueueNormal, fastPolicy())
	q := &ctxBlindQueue{Queue: inner, entered: make(chan struct{}, 1)}
	store := newFakeStore()
	obs := newObserver()

	p := startPool(t, Config{
		Lane:     domain.LaneNormal,
		Queue:    q,
		Store:    store,
		Observer: obs,
		PollWait: 500 * time.Millisecond,
	})

	select {
	case <-q.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop never called Dequeue")
	}

	// Пауза, пока цикл ждёт внутри Dequeue; элемент приходит уже после неё
	p.Pause()
	enqueueBatches(t, inner, domain.LaneNormal, []int64{1})

	time.Sleep(100 * time.Millisecond)
	if store.Calls() != 0 {
		t.Fatalf("paused pool must not process items, got %d calls", store.Calls())
	}
	counts, _ := inner.Counts(context.Background())
	if counts.Waiting != 1 || counts.Active != 0 {
		t.Fatalf("item should be back in waiting: %+v", counts)
	}

	p.Resume()
	obs.waitEvents(t, 1)

	if len(obs.completed) != 1 {
		t.Errorf("expected item completed after resume, got %d", len(obs.completed))
	}
}

// lossyNackQueue теряет первый Nack (обрыв соединения).
type lossyNackQueue struct {
	queue.Queue
	lost atomic.Bool
}

func (q *lossyNackQueue) Nack(ctx context.Context, item *domain.QueueItem, cause error) (queue.Outcome, error) {
	if q.lost.CompareAndSwap(false, true) {
		return queue.Outcome{}, errors.New("redis: connection reset")
	}
	return q.Queue.Nack(ctx, item, cause)
}

func TestPool_LostNackIsReclaimed(t *testing.T) {
	policy := fastPolicy()
	policy.LeaseTimeout = 30 * time.Millisecond
	inner := queue.NewMemoryQueue(domain.QueueHighPriority, policy)
	store := newFakeStore()
	store.failFirst = 1
	obs := newObserver()

	enqueueBatches(t, inner, domain.LaneHigh, []int64{9})

	p := startPool(t, Config{
		Lane:            domain.LaneHigh,
		Queue:           &lossyNackQueue{Queue: inner},
		Store:           store,
		Observer:        obs,
		ReclaimInterval: 10 * time.Millisecond,
	})
	obs.waitEvents(t, 1)

	if len(obs.completed) != 1 || len(obs.failed) != 0 {
		t.Errorf("expected completion after reclaim: completed=%d failed=%d", len(obs.completed), len(obs.failed))
	}
	if store.Calls() != 2 {
		t.Errorf("expected 2 store calls, got %d", store.Calls())
	}

	stats := p.Stats()
	if stats.Reclaimed != 1 || stats.Retried != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	counts, _ := inner.Counts(context.Background())
	if counts.Outstanding() != 0 {
		t.Errorf("queue should be drained: %+v", counts)
	}
}

func TestPool_ReclaimExhaustedReportsFailure(t *testing.T) {
	policy := fastPolicy()
	policy.MaxAttempts = 1
	policy.LeaseTimeout = 30 * time.Millisecond
	q := queue.NewMemoryQueue(domain.QueueNormal, policy)
	store := newFakeStore()
	store.block = make(chan struct{}) // обработчик зависает до остановки пула
	obs := newObserver()
	pub := &recordingPublisher{}

	enqueueBatches(t, q, domain.LaneNormal, []int64{1, 2})

	p := startPool(t, Config{
		Lane:            domain.LaneNormal,
		Queue:           q,
		Store:           store,
		Observer:        obs,
		Publisher:       pub,
		ReclaimInterval: 10 * time.Millisecond,
	})
	obs.waitEvents(t, 1)

	if len(obs.failed) != 1 {
		t.Fatalf("expected reclaimed item reported as failed, got %d", len(obs.failed))
	}

	counts, _ := q.Counts(context.Background())
	if counts.Failed != 1 || counts.Active != 0 {
		t.Errorf("unexpected counts: %+v", counts)
	}
	if p.Stats().Reclaimed != 1 {
		t.Errorf("expected 1 reclaimed item, got %d", p.Stats().Reclaimed)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.failed) != 1 || pub.failed[0].Error != queue.ErrLeaseExpired.Error() {
		t.Errorf("unexpected batch.failed events: %+v", pub.failed)
	}
}

func TestPool_PauseWithRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	q := queue.NewRedisQueue(rc, domain.QueueNormal, fastPolicy())
	store := newFakeStore()
	obs := newObserver()

	p := startPool(t, Config{
		Lane:     domain.LaneNormal,
		Queue:    q,
		Store:    store,
		Observer: obs,
		PollWait: 200 * time.Millisecond,
	})

	// Цикл ждёт в Dequeue; пауза и постановка приходятся на это ожидание
	time.Sleep(30 * time.Millisecond)
	p.Pause()
	enqueueBatches(t, q, domain.LaneNormal, []int64{1}, []int64{2})

	time.Sleep(300 * time.Millisecond)
	if store.Calls() != 0 {
		t.Fatalf("paused pool must not process items, got %d calls", store.Calls())
	}
	counts, _ := q.Counts(context.Background())
	if counts.Waiting != 2 || counts.Active != 0 {
		t.Fatalf("items should stay in waiting while paused: %+v", counts)
	}

	p.Resume()
	obs.waitEvents(t, 2)

	counts, _ = q.Counts(context.Background())
	if counts.Outstanding() != 0 {
		t.Errorf("queue should be drained after resume: %+v", counts)
	}
}
