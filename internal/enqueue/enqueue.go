// Package enqueue разбивает PENDING заказы на пакеты и ставит их в очереди линий.
package enqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// DefaultBatchSize — идентификаторов в одном элементе очереди.
const DefaultBatchSize = 500

// Scanner — потоковый проход по идентификаторам PENDING заказов.
type Scanner interface {
	ScanPendingIDs(ctx context.Context, priority domain.Priority, fn func(id int64) error) error
}

// Observer вызывается перед постановкой каждого элемента в очередь.
type Observer interface {
	ItemEnqueuing(item *domain.QueueItem)
}

// Counts — поставлено идентификаторов по линиям.
type Counts struct {
	High   int `json:"high"`
	Normal int `json:"normal"`
}

// Get возвращает количество для линии.
func (c Counts) Get(l domain.Lane) int {
	if l == domain.LaneHigh {
		return c.High
	}
	return c.Normal
}

// Enqueuer ставит пакеты идентификаторов в очереди линий.
type Enqueuer struct {
	store     Scanner
	queues    map[domain.Lane]queue.Queue
	batchSize int
	observer  Observer
	logger    *slog.Logger
}

// Config — конфигурация Enqueuer.
type Config struct {
	Store     Scanner
	Queues    map[domain.Lane]queue.Queue
	BatchSize int // default: 500
	Observer  Observer
	Logger    *slog.Logger
}

// New создаёт Enqueuer.
func New(cfg Config) *Enqueuer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Enqueuer{
		store:     cfg.Store,
		queues:    cfg.Queues,
		batchSize: batchSize,
		observer:  cfg.Observer,
		logger:    logger,
	}
}

// Run сканирует обе линии параллельно и возвращает число поставленных идентификаторов.
// Ошибка хранилища или очереди в любой линии прерывает обе.
func (e *Enqueuer) Run(ctx context.Context, runID uuid.UUID) (Counts, error) {
	start := time.Now()

	var counts Counts
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		n, err := e.enqueueLane(egCtx, runID, domain.LaneHigh)
		counts.High = n
		return err
	})
	eg.Go(func() error {
		n, err := e.enqueueLane(egCtx, runID, domain.LaneNormal)
		counts.Normal = n
		return err
	})

	if err := eg.Wait(); err != nil {
		return counts, err
	}

	e.logger.Info("enqueueing completed",
		"high", counts.High,
		"normal", counts.Normal,
		"duration", time.Since(start),
	)
	return counts, nil
}

// enqueueLane сканирует заказы линии и сбрасывает буфер каждые batchSize идентификаторов.
func (e *Enqueuer) enqueueLane(ctx context.Context, runID uuid.UUID, lane domain.Lane) (int, error) {
	q, ok := e.queues[lane]
	if !ok {
		return 0, fmt.Errorf("no queue for lane %s", lane)
	}

	logger := telemetry.WithLane(e.logger, string(lane))
	buf := make([]int64, 0, e.batchSize)
	total := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}

		item := domain.NewQueueItem(runID, lane, buf)
		if e.observer != nil {
			e.observer.ItemEnqueuing(item)
		}
		if err := q.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("enqueue %s batch: %w", lane, err)
		}

		total += len(buf)
		telemetry.OrdersEnqueued.WithLabelValues(string(lane)).Add(float64(len(buf)))
		buf = buf[:0]
		return nil
	}

	err := e.store.ScanPendingIDs(ctx, lane.Priority(), func(id int64) error {
		buf = append(buf, id)
		if len(buf) >= e.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("scan %s orders: %w", lane, err)
	}

	if err := flush(); err != nil {
		return total, err
	}

	logger.Debug("lane enqueued", "ids", total)
	return total, nil
}
