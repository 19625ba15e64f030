package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderflow/internal/domain"
)

// MemoryQueue — очередь в памяти.
type MemoryQueue struct {
	name   string
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	waiting []*domain.QueueItem
	active  map[uuid.UUID]*domain.QueueItem
	leases  map[uuid.UUID]time.Time // ID → конец аренды активного элемента
	delayed []*domain.QueueItem     // отсортированы по NextEligibleAt
	failed  []*domain.QueueItem

	// notify — сигнал ожидающим Dequeue о новом элементе.
	notify chan struct{}
}

// NewMemoryQueue создаёт очередь в памяти.
func NewMemoryQueue(name string, policy Policy) *MemoryQueue {
	return &MemoryQueue{
		name:   name,
		policy: policy.normalize(),
		now:    time.Now,
		active: make(map[uuid.UUID]*domain.QueueItem),
		leases: make(map[uuid.UUID]time.Time),
		notify: make(chan struct{}, 1),
	}
}

// Name возвращает имя очереди.
func (q *MemoryQueue) Name() string {
	return q.name
}

// Enqueue добавляет элемент в конец waiting.
func (q *MemoryQueue) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	q.waiting = append(q.waiting, cloneItem(item))
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue выдаёт следующий готовый элемент.
func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*domain.QueueItem, error) {
	deadline := q.now().Add(wait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.mu.Lock()
		now := q.now()
		q.promoteDue(now)

		if len(q.waiting) > 0 {
			item := q.waiting[0]
			q.waiting[0] = nil
			q.waiting = q.waiting[1:]
			q.active[item.ID] = item
			q.leases[item.ID] = now.Add(q.policy.LeaseTimeout)
			q.mu.Unlock()
			return cloneItem(item), nil
		}

		// Ждём до ближайшего из: deadline, NextEligibleAt первого отложенного
		sleep := deadline.Sub(now)
		if len(q.delayed) > 0 {
			if d := q.delayed[0].NextEligibleAt.Sub(now); d < sleep {
				sleep = d
			}
		}
		q.mu.Unlock()

		if !now.Before(deadline) {
			return nil, ErrEmpty
		}
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack удаляет элемент из active.
func (q *MemoryQueue) Ack(_ context.Context, item *domain.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[item.ID]; !ok {
		return ErrItemNotFound
	}
	q.unlease(item.ID)
	return nil
}

// Nack фиксирует неудачную попытку.
func (q *MemoryQueue) Nack(_ context.Context, item *domain.QueueItem, cause error) (Outcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.active[item.ID]
	if !ok {
		return Outcome{}, ErrItemNotFound
	}
	q.unlease(item.ID)

	return q.fail(stored, cause, q.now()), nil
}

// Release возвращает элемент в начало waiting.
func (q *MemoryQueue) Release(_ context.Context, item *domain.QueueItem) error {
	q.mu.Lock()
	stored, ok := q.active[item.ID]
	if !ok {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	q.unlease(item.ID)
	q.waiting = append([]*domain.QueueItem{stored}, q.waiting...)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Reclaim забирает активные элементы с истёкшей арендой.
func (q *MemoryQueue) Reclaim(_ context.Context) ([]Reclaimed, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var expired []*domain.QueueItem
	for id, deadline := range q.leases {
		if deadline.After(now) {
			continue
		}
		expired = append(expired, q.active[id])
	}
	sort.Slice(expired, func(i, j int) bool {
		return q.leases[expired[i].ID].Before(q.leases[expired[j].ID])
	})

	out := make([]Reclaimed, 0, len(expired))
	for _, stored := range expired {
		q.unlease(stored.ID)
		outcome := q.fail(stored, ErrLeaseExpired, now)
		out = append(out, Reclaimed{Item: cloneItem(stored), Outcome: outcome})
	}
	return out, nil
}

// Counts возвращает количество элементов по состояниям.
func (q *MemoryQueue) Counts(_ context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Counts{
		Waiting: int64(len(q.waiting)),
		Active:  int64(len(q.active)),
		Delayed: int64(len(q.delayed)),
		Failed:  int64(len(q.failed)),
	}, nil
}

// Clear удаляет все элементы.
func (q *MemoryQueue) Clear(_ context.Context, force bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !force && len(q.active) > 0 {
		return ErrQueueBusy
	}

	q.waiting = nil
	q.active = make(map[uuid.UUID]*domain.QueueItem)
	q.leases = make(map[uuid.UUID]time.Time)
	q.delayed = nil
	q.failed = nil
	return nil
}

// Failed возвращает копии окончательно упавших элементов.
func (q *MemoryQueue) Failed() []*domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*domain.QueueItem, len(q.failed))
	for i, item := range q.failed {
		out[i] = cloneItem(item)
	}
	return out
}

// unlease снимает элемент с активных. Вызывается под q.mu.
func (q *MemoryQueue) unlease(id uuid.UUID) {
	delete(q.active, id)
	delete(q.leases, id)
}

// fail учитывает неудачную попытку и переносит элемент в delayed или failed.
// Вызывается под q.mu.
func (q *MemoryQueue) fail(stored *domain.QueueItem, cause error, now time.Time) Outcome {
	outcome := recordNack(stored, cause, q.policy, now)
	if !outcome.Retrying {
		q.failed = append(q.failed, stored)
		return outcome
	}

	q.delayed = append(q.delayed, stored)
	sort.SliceStable(q.delayed, func(i, j int) bool {
		return q.delayed[i].NextEligibleAt.Before(*q.delayed[j].NextEligibleAt)
	})
	return outcome
}

// promoteDue переносит отложенные элементы с наступившим временем в waiting.
// Вызывается под q.mu.
func (q *MemoryQueue) promoteDue(now time.Time) {
	n := 0
	for n < len(q.delayed) && !q.delayed[n].NextEligibleAt.After(now) {
		q.waiting = append(q.waiting, q.delayed[n])
		n++
	}
	if n > 0 {
		q.delayed = q.delayed[n:]
	}
}

// signal будит одного ожидающего Dequeue.
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
