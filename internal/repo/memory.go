package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/orderflow/internal/domain"
)

// MemoryOrderRepo — хранилище заказов в памяти с тем же контрактом, что у OrderRepo.
//
// Проверяет те же ограничения, что и схема в PostgreSQL (tier, amount > 0),
// поэтому построчные отказы воспроизводятся без БД.
type MemoryOrderRepo struct {
	mu     sync.RWMutex
	orders map[int64]*domain.Order
	order  []int64
	nextID int64
}

// NewMemoryOrderRepo создаёт пустое хранилище.
func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{
		orders: make(map[int64]*domain.Order),
	}
}

// EnsureSchema — no-op: «таблица» в памяти существует всегда.
func (r *MemoryOrderRepo) EnsureSchema(_ context.Context) error {
	return nil
}

// InsertOrders вставляет заказы, пропуская некорректные.
func (r *MemoryOrderRepo) InsertOrders(ctx context.Context, orders []domain.Order) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var inserted, failed int
	var first error
	for i := range orders {
		o := orders[i]
		if !o.Tier.IsValid() || o.Amount <= 0 {
			failed++
			if first == nil {
				first = fmt.Errorf("%w: tier=%q amount=%v", ErrInvalidOrder, o.Tier, o.Amount)
			}
			continue
		}

		r.nextID++
		o.ID = r.nextID
		r.orders[o.ID] = &o
		r.order = append(r.order, o.ID)
		inserted++
	}
	if failed > 0 {
		return inserted, &BulkInsertError{Inserted: inserted, Failed: failed, First: first}
	}
	return inserted, nil
}

// ScanPendingIDs вызывает fn для каждого PENDING заказа с приоритетом priority
// в порядке вставки.
func (r *MemoryOrderRepo) ScanPendingIDs(ctx context.Context, priority domain.Priority, fn func(id int64) error) error {
	r.mu.RLock()
	ids := make([]int64, 0)
	for _, id := range r.order {
		o := r.orders[id]
		if o.Priority == priority && o.Status == domain.OrderStatusPending {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// MarkProcessed переводит заказы из набора ids в PROCESSED.
func (r *MemoryOrderRepo) MarkProcessed(ctx context.Context, ids []int64, note string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var affected int64
	for _, id := range ids {
		o, ok := r.orders[id]
		if !ok {
			continue
		}
		o.Status = domain.OrderStatusProcessed
		o.Note = note
		o.UpdatedAt = now
		affected++
	}
	return affected, nil
}

// Drop удаляет все заказы. Повторный вызов безопасен.
func (r *MemoryOrderRepo) Drop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders = make(map[int64]*domain.Order)
	r.order = nil
	r.nextID = 0
	return nil
}

// Stats возвращает количество заказов по приоритету и статусу.
func (r *MemoryOrderRepo) Stats(_ context.Context) ([]OrderStat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type key struct {
		p domain.Priority
		s domain.OrderStatus
	}
	counts := make(map[key]int64)
	for _, o := range r.orders {
		counts[key{o.Priority, o.Status}]++
	}

	stats := make([]OrderStat, 0, len(counts))
	for k, c := range counts {
		stats = append(stats, OrderStat{Priority: k.p, Status: k.s, Count: c})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Priority != stats[j].Priority {
			return stats[i].Priority < stats[j].Priority
		}
		return stats[i].Status < stats[j].Status
	})
	return stats, nil
}

// GetByID возвращает копию заказа.
func (r *MemoryOrderRepo) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// All возвращает копии всех заказов в порядке вставки.
func (r *MemoryOrderRepo) All() []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Order, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.orders[id])
	}
	return out
}

// Len возвращает количество заказов.
func (r *MemoryOrderRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}
