package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/generator"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/repo"
	"github.com/shaiso/orderflow/internal/worker"
)

// testStore — хранилище в памяти с управляемыми отказами.
type testStore struct {
	*repo.MemoryOrderRepo

	mu       sync.Mutex
	failID   int64 // MarkProcessed падает для пакетов с этим ID
	failOnce bool  // после первого отказа failID сбрасывается
	dropErr  error
	scanErr  error
	notes    []string // аннотации в порядке вызовов MarkProcessed
}

func newTestStore() *testStore {
	return &testStore{MemoryOrderRepo: repo.NewMemoryOrderRepo()}
}

func (s *testStore) MarkProcessed(ctx context.Context, ids []int64, note string) (int64, error) {
	s.mu.Lock()
	failID := s.failID
	s.mu.Unlock()

	for _, id := range ids {
		if failID != 0 && id == failID {
			s.mu.Lock()
			if s.failOnce {
				s.failID = 0
			}
			s.mu.Unlock()
			return 0, errors.New("write conflict")
		}
	}

	n, err := s.MemoryOrderRepo.MarkProcessed(ctx, ids, note)
	if err == nil {
		s.mu.Lock()
		s.notes = append(s.notes, note)
		s.mu.Unlock()
	}
	return n, err
}

func (s *testStore) Drop(ctx context.Context) error {
	if s.dropErr != nil {
		return s.dropErr
	}
	return s.MemoryOrderRepo.Drop(ctx)
}

func (s *testStore) ScanPendingIDs(ctx context.Context, p domain.Priority, fn func(int64) error) error {
	if s.scanErr != nil {
		return s.scanErr
	}
	return s.MemoryOrderRepo.ScanPendingIDs(ctx, p, fn)
}

// funcGenerator — генератор с подменяемым поведением.
type funcGenerator func(ctx context.Context, total, batchSize int) (generator.Result, error)

func (f funcGenerator) Generate(ctx context.Context, total, batchSize int) (generator.Result, error) {
	return f(ctx, total, batchSize)
}

// recordingPublisher собирает run.finished.
type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.RunFinishedPayload
}

func (p *recordingPublisher) PublishRunFinished(_ context.Context, payload mq.RunFinishedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload)
	return nil
}

type harness struct {
	coord     *Coordinator
	store     *testStore
	queues    map[domain.Lane]queue.Queue
	pools     map[domain.Lane]*worker.Pool
	publisher *recordingPublisher
}

type harnessOpts struct {
	total     int
	policy    LanePolicy
	generator Generator
	store     *testStore
	wrapQueue func(queue.Queue) queue.Queue // обёртка очередей линий (опционально)
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	store := opts.store
	if store == nil {
		store = newTestStore()
	}

	policy := queue.Policy{
		MaxAttempts:  3,
		BaseDelay:    5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		LeaseTimeout: 100 * time.Millisecond,
	}
	queues := map[domain.Lane]queue.Queue{
		domain.LaneHigh:   queue.NewMemoryQueue(domain.QueueHighPriority, policy),
		domain.LaneNormal: queue.NewMemoryQueue(domain.QueueNormal, policy),
	}
	if opts.wrapQueue != nil {
		for lane, q := range queues {
			queues[lane] = opts.wrapQueue(q)
		}
	}

	gen := opts.generator
	if gen == nil {
		gen = generator.New(generator.Config{Store: store, Seed: 11})
	}

	total := opts.total
	if total == 0 {
		total = 300
	}

	pub := &recordingPublisher{}
	coord, err := New(Config{
		Store:               store,
		Generator:           gen,
		Queues:              queues,
		Publisher:           pub,
		LanePolicy:          opts.policy,
		Total:               total,
		GenerationBatchSize: 50,
		EnqueueBatchSize:    20,
	})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}

	h := &harness{
		coord:     coord,
		store:     store,
		queues:    queues,
		pools:     make(map[domain.Lane]*worker.Pool),
		publisher: pub,
	}

	for _, lane := range domain.Lanes {
		p := worker.New(worker.Config{
			Lane:            lane,
			Queue:           queues[lane],
			Store:           store,
			Observer:        coord,
			Concurrency:     4,
			PollWait:        10 * time.Millisecond,
			ReclaimInterval: 10 * time.Millisecond,
		})
		coord.AttachPool(lane, p)
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("start pool: %v", err)
		}
		h.pools[lane] = p
	}

	t.Cleanup(func() {
		coord.Shutdown()
		for _, p := range h.pools {
			p.Stop()
		}
	})
	return h
}

// waitDone ждёт завершения запуска с таймаутом.
func (h *harness) waitDone(t *testing.T) Status {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not finish, status: %+v", h.coord.Status())
	}
	return h.coord.Status()
}

// --- Coordinator Tests ---

func TestCoordinator_FullRun(t *testing.T) {
	h := newHarness(t, harnessOpts{total: 300})

	if !h.coord.Start(context.Background()) {
		t.Fatal("start should begin a run")
	}
	st := h.waitDone(t)

	if st.Status != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %v)", st.Status, st.Error)
	}
	if st.Error != nil {
		t.Errorf("unexpected error: %s", *st.Error)
	}
	if st.Generation.Count != 300 || st.Generation.Requested != 300 {
		t.Errorf("unexpected generation stats: %+v", st.Generation)
	}
	if st.HighProcessing.Count+st.NormalProcessing.Count != 300 {
		t.Errorf("lane counts should cover all orders: %d + %d",
			st.HighProcessing.Count, st.NormalProcessing.Count)
	}

	for _, lane := range domain.Lanes {
		ls := st.Lane(lane)
		if ls.StartTime == nil || ls.EndTime == nil {
			t.Errorf("%s: start/end time not recorded", lane)
			continue
		}
		if ls.EndTime.Before(*ls.StartTime) {
			t.Errorf("%s: end before start", lane)
		}
		if ls.ProcessedRecords != int64(ls.Count) || ls.FailedItems != 0 {
			t.Errorf("%s: unexpected progress %+v", lane, ls)
		}
	}
	if !st.HighProcessing.EndTime.After(*st.StartedAt) && !st.HighProcessing.EndTime.Equal(*st.StartedAt) {
		t.Error("high lane end must not precede run start")
	}

	for _, o := range h.store.All() {
		if o.Status != domain.OrderStatusProcessed {
			t.Fatalf("order %d not processed", o.ID)
		}
		want := domain.LaneForPriority(o.Priority).Annotation()
		if o.Note != want {
			t.Fatalf("order %d: note %q, want %q", o.ID, o.Note, want)
		}
	}

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	if len(h.publisher.events) != 1 || h.publisher.events[0].Status != string(domain.PhaseCompleted) {
		t.Errorf("expected one run.finished COMPLETED event, got %+v", h.publisher.events)
	}
}

func TestCoordinator_StartWhileRunningIsNoop(t *testing.T) {
	release := make(chan struct{})
	gen := funcGenerator(func(ctx context.Context, total, _ int) (generator.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return generator.Result{}, ctx.Err()
		}
		return generator.Result{Requested: total}, nil
	})
	h := newHarness(t, harnessOpts{generator: gen})

	if !h.coord.Start(context.Background()) {
		t.Fatal("first start should begin a run")
	}
	before := h.coord.Status()

	if h.coord.Start(context.Background()) {
		t.Error("second start must be a no-op")
	}

	after := h.coord.Status()
	if after.Status != domain.PhaseGenerating {
		t.Errorf("expected GENERATING, got %s", after.Status)
	}
	if *after.RunID != *before.RunID || !after.StartedAt.Equal(*before.StartedAt) {
		t.Error("in-flight run must not be replaced")
	}

	close(release)
	if st := h.waitDone(t); st.Status != domain.PhaseCompleted {
		t.Errorf("expected COMPLETED, got %s", st.Status)
	}

	// Из COMPLETED можно начать новый запуск
	if !h.coord.Start(context.Background()) {
		t.Error("start from COMPLETED should begin a new run")
	}
	h.waitDone(t)
}

func TestCoordinator_GenerationFailure(t *testing.T) {
	gen := funcGenerator(func(context.Context, int, int) (generator.Result, error) {
		return generator.Result{}, errors.New("database unreachable")
	})
	h := newHarness(t, harnessOpts{generator: gen})

	h.coord.Start(context.Background())
	st := h.waitDone(t)

	if st.Status != domain.PhaseError {
		t.Fatalf("expected ERROR, got %s", st.Status)
	}
	if st.Error == nil || *st.Error == "" {
		t.Fatal("error message should be captured")
	}

	// Из ERROR можно начать новый запуск
	if !h.coord.Start(context.Background()) {
		t.Error("start from ERROR should begin a new run")
	}
	h.waitDone(t)
}

func TestCoordinator_EnqueueFailure(t *testing.T) {
	store := newTestStore()
	store.scanErr = errors.New("cursor killed")
	h := newHarness(t, harnessOpts{store: store, total: 50})

	h.coord.Start(context.Background())
	st := h.waitDone(t)

	if st.Status != domain.PhaseError {
		t.Fatalf("expected ERROR, got %s", st.Status)
	}
	if st.Generation.Count != 50 {
		t.Errorf("generation stats should be kept, got %+v", st.Generation)
	}

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	if len(h.publisher.events) != 1 || h.publisher.events[0].Error == "" {
		t.Errorf("expected run.finished with error, got %+v", h.publisher.events)
	}
}

func TestCoordinator_EmptyLaneSkipped(t *testing.T) {
	store := newTestStore()
	// Только NORMAL заказы
	gen := funcGenerator(func(ctx context.Context, total, _ int) (generator.Result, error) {
		orders := make([]domain.Order, total)
		for i := range orders {
			orders[i] = domain.NewOrder("Ana Lima", 50, domain.TierGold, time.Now())
		}
		n, err := store.InsertOrders(ctx, orders)
		return generator.Result{Requested: total, Inserted: n}, err
	})
	h := newHarness(t, harnessOpts{store: store, generator: gen, total: 40})

	h.coord.Start(context.Background())
	st := h.waitDone(t)

	if st.Status != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", st.Status)
	}

	high := st.HighProcessing
	if high.Count != 0 || high.Duration != 0 {
		t.Errorf("empty lane should have zero count and duration: %+v", high)
	}
	if high.StartTime == nil || high.EndTime == nil || !high.StartTime.Equal(*high.EndTime) {
		t.Error("empty lane should have end time equal to start time")
	}
	if st.NormalProcessing.Count != 40 {
		t.Errorf("expected 40 normal orders, got %d", st.NormalProcessing.Count)
	}
}

func TestCoordinator_ExhaustedItemDoesNotBlockDrain(t *testing.T) {
	store := newTestStore()
	store.failID = 1 // пакет с первым заказом не обработать
	h := newHarness(t, harnessOpts{store: store, total: 200})

	h.coord.Start(context.Background())
	st := h.waitDone(t)

	if st.Status != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", st.Status)
	}

	failedItems := st.HighProcessing.FailedItems + st.NormalProcessing.FailedItems
	failedRecords := st.HighProcessing.FailedRecords + st.NormalProcessing.FailedRecords
	if failedItems != 1 {
		t.Errorf("expected 1 failed item, got %d", failedItems)
	}
	if failedRecords == 0 || failedRecords > 20 {
		t.Errorf("unexpected failed records: %d", failedRecords)
	}

	order, err := store.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("failed order should stay PENDING, got %s", order.Status)
	}

	processed := st.HighProcessing.ProcessedRecords + st.NormalProcessing.ProcessedRecords
	if processed+int64(failedRecords) != 200 {
		t.Errorf("processed %d + failed %d should cover all orders", processed, failedRecords)
	}
}

// lossyNackQueue — очередь, у которой первый Nack не доходит до Redis.
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

func TestCoordinator_LostNackIsReclaimed(t *testing.T) {
	store := newTestStore()
	store.failID = 1
	store.failOnce = true

	h := newHarness(t, harnessOpts{
		store: store,
		total: 200,
		wrapQueue: func(q queue.Queue) queue.Queue {
			return &lossyNackQueue{Queue: q}
		},
	})

	h.coord.Start(context.Background())
	st := h.waitDone(t)

	if st.Status != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s (error: %v)", st.Status, st.Error)
	}
	for _, lane := range domain.Lanes {
		ls := st.Lane(lane)
		if ls.FailedItems != 0 || ls.ProcessedRecords != int64(ls.Count) {
			t.Errorf("%s: unexpected progress %+v", lane, ls)
		}
	}

	var reclaimed int64
	for _, p := range h.pools {
		reclaimed += p.Stats().Reclaimed
	}
	if reclaimed != 1 {
		t.Errorf("expected 1 reclaimed item, got %d", reclaimed)
	}

	order, err := store.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.OrderStatusProcessed {
		t.Errorf("order 1 should be processed after reclaim, got %s", order.Status)
	}

	for lane, q := range h.queues {
		c, _ := q.Counts(context.Background())
		if c.Outstanding() != 0 {
			t.Errorf("%s queue should be drained: %+v", lane, c)
		}
	}
}

func TestCoordinator_SequentialPolicy(t *testing.T) {
	h := newHarness(t, harnessOpts{policy: LanePolicySequential, total: 300})

	h.coord.Start(context.Background())
	st := h.waitDone(t)

	if st.Status != domain.PhaseCompleted {
		t.Fatalf("expected COMPLETED, got %s", st.Status)
	}
	if st.LanePolicy != LanePolicySequential {
		t.Errorf("unexpected policy %s", st.LanePolicy)
	}

	// Все пакеты NORMAL обработаны после всех пакетов HIGH
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	seenNormal := false
	for _, note := range h.store.notes {
		switch note {
		case domain.LaneNormal.Annotation():
			seenNormal = true
		case domain.LaneHigh.Annotation():
			if seenNormal {
				t.Fatal("HIGH batch processed after NORMAL batch under sequential policy")
			}
		}
	}
	if h.pools[domain.LaneNormal].IsPaused() {
		t.Error("NORMAL pool should be resumed after run")
	}
}

func TestCoordinator_ResetIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOpts{total: 100})

	h.coord.Start(context.Background())
	h.waitDone(t)

	for i := 0; i < 2; i++ {
		if err := h.coord.Reset(context.Background()); err != nil {
			t.Fatalf("reset %d: %v", i+1, err)
		}
	}

	st := h.coord.Status()
	if st.Status != domain.PhaseIdle || st.RunID != nil || st.Error != nil || st.Generation.Count != 0 {
		t.Errorf("expected fresh IDLE state, got %+v", st)
	}
	if h.store.Len() != 0 {
		t.Errorf("store should be empty, got %d", h.store.Len())
	}
	for lane, q := range h.queues {
		c, _ := q.Counts(context.Background())
		if c != (queue.Counts{}) {
			t.Errorf("%s queue should be empty: %+v", lane, c)
		}
	}
}

func TestCoordinator_ResetOnEmptySystem(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	if err := h.coord.Reset(context.Background()); err != nil {
		t.Fatalf("reset of empty system: %v", err)
	}
}

func TestCoordinator_ResetFailureKeepsState(t *testing.T) {
	store := newTestStore()
	h := newHarness(t, harnessOpts{store: store, total: 60})

	h.coord.Start(context.Background())
	before := h.waitDone(t)

	store.dropErr = errors.New("permission denied")
	if err := h.coord.Reset(context.Background()); err == nil {
		t.Fatal("expected reset error")
	}

	after := h.coord.Status()
	if after.Status != before.Status || *after.RunID != *before.RunID {
		t.Error("failed reset must leave state unchanged")
	}
}

func TestCoordinator_ResetFailureAbortsActiveRun(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, _, _ int) (generator.Result, error) {
		<-ctx.Done()
		return generator.Result{}, ctx.Err()
	})
	store := newTestStore()
	store.dropErr = errors.New("permission denied")
	h := newHarness(t, harnessOpts{store: store, generator: gen})

	h.coord.Start(context.Background())
	if err := h.coord.Reset(context.Background()); err == nil {
		t.Fatal("expected reset error")
	}

	// Запуск прерван до очистки, повторный Reset доводит систему до IDLE
	st := h.coord.Status()
	if st.Status != domain.PhaseError || st.Error == nil || !strings.Contains(*st.Error, ErrRunAborted.Error()) {
		t.Fatalf("expected ERROR run aborted, got %s (%v)", st.Status, st.Error)
	}

	store.dropErr = nil
	if err := h.coord.Reset(context.Background()); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if st := h.coord.Status(); st.Status != domain.PhaseIdle {
		t.Errorf("expected IDLE after second reset, got %s", st.Status)
	}
}

func TestCoordinator_ResetAbortsActiveRun(t *testing.T) {
	gen := funcGenerator(func(ctx context.Context, _, _ int) (generator.Result, error) {
		<-ctx.Done()
		return generator.Result{}, ctx.Err()
	})
	h := newHarness(t, harnessOpts{generator: gen})

	h.coord.Start(context.Background())
	if err := h.coord.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if st := h.coord.Status(); st.Status != domain.PhaseIdle {
		t.Errorf("expected IDLE after reset, got %s", st.Status)
	}
}

func TestCoordinator_StatusIsSnapshot(t *testing.T) {
	h := newHarness(t, harnessOpts{total: 50})

	h.coord.Start(context.Background())
	h.waitDone(t)

	st := h.coord.Status()
	originalStart := *st.HighProcessing.StartTime
	originalRun := *st.RunID

	st.Status = domain.PhaseError
	*st.HighProcessing.StartTime = time.Time{}
	*st.RunID = uuid.Nil
	st.Generation.Count = -1

	again := h.coord.Status()
	if again.Status != domain.PhaseCompleted {
		t.Error("mutating snapshot changed phase")
	}
	if !again.HighProcessing.StartTime.Equal(originalStart) {
		t.Error("mutating snapshot changed lane start time")
	}
	if *again.RunID != originalRun {
		t.Error("mutating snapshot changed run id")
	}
	if again.Generation.Count != 50 {
		t.Error("mutating snapshot changed generation stats")
	}
}

func TestParseLanePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    LanePolicy
		wantErr bool
	}{
		{"", LanePolicyConcurrent, false},
		{"concurrent", LanePolicyConcurrent, false},
		{"Sequential", LanePolicySequential, false},
		{"round-robin", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLanePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLanePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLanePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_RequiresBothQueues(t *testing.T) {
	_, err := New(Config{Queues: map[domain.Lane]queue.Queue{
		domain.LaneHigh: queue.NewMemoryQueue(domain.QueueHighPriority, queue.DefaultPolicy()),
	}})
	if !errors.Is(err, ErrNoQueue) {
		t.Errorf("expected ErrNoQueue, got %v", err)
	}
}

// --- laneTracker Tests ---

func TestLaneTracker_DrainsOnceAfterSeal(t *testing.T) {
	tr := newLaneTracker()
	runID := uuid.New()
	tr.reset(runID)

	first, second := uuid.New(), uuid.New()
	tr.add(runID, domain.LaneHigh, first)
	tr.add(runID, domain.LaneHigh, second)

	// Ещё не sealed: опустошение до конца постановки не считается
	tr.done(runID, domain.LaneHigh, first, 10, 10, false)
	tr.done(runID, domain.LaneHigh, second, 10, 0, true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.wait(ctx, runID, domain.LaneHigh); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("lane must not drain before seal, got %v", err)
	}

	tr.seal(runID)
	if err := tr.wait(context.Background(), runID, domain.LaneHigh); err != nil {
		t.Fatalf("lane should be drained: %v", err)
	}

	// Лишнее уведомление не ломает счётчик и не закрывает канал повторно
	tr.done(runID, domain.LaneHigh, first, 10, 10, false)

	var stats LaneStats
	tr.progress(runID, domain.LaneHigh, &stats)
	if stats.Items != 2 || stats.CompletedItems != 1 || stats.FailedItems != 1 || stats.FailedRecords != 10 {
		t.Errorf("unexpected progress: %+v", stats)
	}
}

func TestLaneTracker_RedeliveryCountedOnce(t *testing.T) {
	tr := newLaneTracker()
	runID := uuid.New()
	tr.reset(runID)

	redelivered, other := uuid.New(), uuid.New()
	tr.add(runID, domain.LaneNormal, redelivered)
	tr.add(runID, domain.LaneNormal, other)
	tr.seal(runID)

	// Повторная доставка того же элемента не должна снять чужой элемент
	tr.done(runID, domain.LaneNormal, redelivered, 5, 5, false)
	tr.done(runID, domain.LaneNormal, redelivered, 5, 5, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.wait(ctx, runID, domain.LaneNormal); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("lane drained while an item is still pending: %v", err)
	}

	tr.done(runID, domain.LaneNormal, other, 5, 5, false)
	if err := tr.wait(context.Background(), runID, domain.LaneNormal); err != nil {
		t.Fatalf("lane should be drained: %v", err)
	}

	var stats LaneStats
	tr.progress(runID, domain.LaneNormal, &stats)
	if stats.CompletedItems != 2 || stats.ProcessedRecords != 10 {
		t.Errorf("unexpected progress: %+v", stats)
	}
}

func TestLaneTracker_IgnoresStaleRun(t *testing.T) {
	tr := newLaneTracker()
	oldRun, newRun := uuid.New(), uuid.New()

	tr.reset(oldRun)
	tr.add(oldRun, domain.LaneNormal, uuid.New())

	tr.reset(newRun)
	tr.add(oldRun, domain.LaneNormal, uuid.New()) // запоздалое уведомление
	tr.seal(newRun)

	if err := tr.wait(context.Background(), newRun, domain.LaneNormal); err != nil {
		t.Fatalf("new run lane should be drained: %v", err)
	}
	if err := tr.wait(context.Background(), oldRun, domain.LaneNormal); !errors.Is(err, ErrStaleRun) {
		t.Errorf("expected ErrStaleRun, got %v", err)
	}
}
