package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultConcurrency     = 10
	defaultPollWait        = time.Second
	defaultReclaimInterval = 5 * time.Second
	defaultErrorDelay      = time.Second
	settleTimeout          = 5 * time.Second
)

// Store — операция хранилища, которую выполняет обработчик.
type Store interface {
	MarkProcessed(ctx context.Context, ids []int64, note string) (int64, error)
}

// Observer получает уведомления о завершении элементов.
// Методы вызываются из горутин обработчиков.
type Observer interface {
	// ItemCompleted — пакет обработан, updated — число обновлённых записей.
	ItemCompleted(item *domain.QueueItem, updated int64)

	// ItemFailed — пакет исчерпал попытки и переведён в failed.
	ItemFailed(item *domain.QueueItem, cause error)
}

// Publisher публикует события о пакетах. *mq.Publisher удовлетворяет интерфейсу.
type Publisher interface {
	PublishBatchCompleted(ctx context.Context, payload mq.BatchCompletedPayload) error
	PublishBatchFailed(ctx context.Context, payload mq.BatchFailedPayload) error
}

// Pool — пул обработчиков одной линии.
//
// Цикл диспетчеризации забирает элементы из очереди, пока есть свободный
// слот (не больше Concurrency одновременно), и обрабатывает каждый
// в отдельной горутине: один MarkProcessed на пакет.
//
// Цикл reclaim раз в ReclaimInterval забирает элементы с истёкшей арендой
// (обработчик потерян или не смог выполнить Ack/Nack) и учитывает им
// неудачную попытку.
type Pool struct {
	lane        domain.Lane
	queue       queue.Queue
	store       Store
	observer    Observer
	publisher   Publisher
	concurrency int
	pollWait    time.Duration
	reclaimIvl  time.Duration
	logger      *slog.Logger

	sem *semaphore.Weighted

	// Pause/Resume
	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{} // закрывается при Resume

	// Lifecycle
	started    atomic.Bool
	stopped    atomic.Bool
	cancelFunc context.CancelFunc
	loopWG     sync.WaitGroup
	handlersWG sync.WaitGroup

	// Счётчики
	processed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	reclaimed atomic.Int64
	records   atomic.Int64
	inFlight  atomic.Int64
}

// Config — конфигурация Pool.
type Config struct {
	// Lane — линия, которую обслуживает пул.
	Lane domain.Lane

	// Queue — очередь линии.
	Queue queue.Queue

	// Store — хранилище заказов.
	Store Store

	// Observer — получатель уведомлений (опционально).
	Observer Observer

	// Publisher — публикация событий (опционально; nil — события выключены).
	Publisher Publisher

	Concurrency     int           // одновременных обработчиков (default: 10)
	PollWait        time.Duration // ожидание в Dequeue (default: 1s)
	ReclaimInterval time.Duration // период Reclaim (default: 5s)

	// Logger
	Logger *slog.Logger
}

// New создаёт пул линии.
func New(cfg Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	pollWait := cfg.PollWait
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}

	reclaimIvl := cfg.ReclaimInterval
	if reclaimIvl <= 0 {
		reclaimIvl = defaultReclaimInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		lane:        cfg.Lane,
		queue:       cfg.Queue,
		store:       cfg.Store,
		observer:    cfg.Observer,
		publisher:   cfg.Publisher,
		concurrency: concurrency,
		pollWait:    pollWait,
		reclaimIvl:  reclaimIvl,
		logger:      telemetry.WithLane(logger, string(cfg.Lane)),
		sem:         semaphore.NewWeighted(int64(concurrency)),
	}
}

// Lane возвращает линию пула.
func (p *Pool) Lane() domain.Lane {
	return p.lane
}

// Start запускает циклы диспетчеризации и reclaim.
func (p *Pool) Start(ctx context.Context) error {
	if p.stopped.Load() {
		return ErrPoolStopped
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrPoolStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	p.logger.Info("starting worker pool",
		"queue", p.queue.Name(),
		"concurrency", p.concurrency,
	)

	p.loopWG.Add(2)
	go func() {
		defer p.loopWG.Done()
		p.dispatchLoop(ctx)
	}()
	go func() {
		defer p.loopWG.Done()
		p.reclaimLoop(ctx)
	}()

	return nil
}

// Stop останавливает пул и ждёт завершения обработчиков.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.logger.Info("stopping worker pool...")

	if p.cancelFunc != nil {
		p.cancelFunc()
	}

	p.loopWG.Wait()
	p.handlersWG.Wait()

	p.logger.Info("worker pool stopped")
}

// Pause приостанавливает выдачу новых элементов.
// Уже выданные элементы обрабатываются до конца; элемент, полученный
// из очереди после паузы, возвращается в начало waiting.
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return
	}
	p.paused = true
	p.resumeCh = make(chan struct{})

	p.logger.Info("worker pool paused")
}

// Resume возобновляет выдачу элементов.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused {
		return
	}
	p.paused = false
	close(p.resumeCh)

	p.logger.Info("worker pool resumed")
}

// IsPaused проверяет, приостановлен ли пул.
func (p *Pool) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Stats — счётчики пула с момента старта.
type Stats struct {
	Lane      domain.Lane `json:"lane"`
	Processed int64       `json:"processed"`
	Retried   int64       `json:"retried"`
	Failed    int64       `json:"failed"`
	Reclaimed int64       `json:"reclaimed"`
	Records   int64       `json:"records"`
	InFlight  int64       `json:"in_flight"`
	Paused    bool        `json:"paused"`
}

// Stats возвращает текущие счётчики.
func (p *Pool) Stats() Stats {
	return Stats{
		Lane:      p.lane,
		Processed: p.processed.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
		Reclaimed: p.reclaimed.Load(),
		Records:   p.records.Load(),
		InFlight:  p.inFlight.Load(),
		Paused:    p.IsPaused(),
	}
}

// dispatchLoop забирает элементы, пока есть свободные слоты.
//
// Dequeue выполняется под контекстом пула: пауза не прерывает вызов очереди,
// а элемент, полученный после паузы, возвращается через Release.
func (p *Pool) dispatchLoop(ctx context.Context) {
	for {
		if err := p.waitResumed(ctx); err != nil {
			return
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		item, err := p.queue.Dequeue(ctx, p.pollWait)
		if err != nil {
			p.sem.Release(1)

			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, queue.ErrEmpty):
				continue
			}

			p.logger.Error("failed to dequeue", "error", err)
			if !sleepCtx(ctx, defaultErrorDelay) {
				return
			}
			continue
		}

		if p.IsPaused() {
			p.sem.Release(1)
			p.release(ctx, item)
			continue
		}

		p.handlersWG.Add(1)
		p.inFlight.Add(1)
		go func() {
			defer p.handlersWG.Done()
			defer p.sem.Release(1)
			defer p.inFlight.Add(-1)
			p.handle(ctx, item)
		}()
	}
}

// release возвращает элемент, полученный во время паузы.
// При ошибке элемент остаётся в active до истечения аренды.
func (p *Pool) release(ctx context.Context, item *domain.QueueItem) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := p.queue.Release(settleCtx, item); err != nil {
		p.logger.Warn("failed to release item on pause",
			"item_id", item.ID,
			"error", err,
		)
	}
}

// waitResumed блокируется, пока пул на паузе.
func (p *Pool) waitResumed(ctx context.Context) error {
	for {
		p.mu.Lock()
		if !p.paused {
			p.mu.Unlock()
			return nil
		}
		resumeCh := p.resumeCh
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumeCh:
		}
	}
}

// reclaimLoop периодически забирает элементы с истёкшей арендой.
func (p *Pool) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.reclaimIvl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaim(ctx)
		}
	}
}

// reclaim выполняет один проход Reclaim и сообщает об исходе каждого элемента.
func (p *Pool) reclaim(ctx context.Context) {
	reclaimed, err := p.queue.Reclaim(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Error("failed to reclaim expired items", "error", err)
	}

	for _, r := range reclaimed {
		p.reclaimed.Add(1)
		telemetry.ItemsReclaimed.WithLabelValues(string(p.lane)).Inc()
		logger := telemetry.WithItemID(p.logger, r.Item.ID.String())
		p.reportFailure(ctx, logger, r.Item, r.Outcome, queue.ErrLeaseExpired)
	}
}

// handle обрабатывает один элемент и сообщает результат очереди.
func (p *Pool) handle(ctx context.Context, item *domain.QueueItem) {
	logger := telemetry.WithItemID(p.logger, item.ID.String())
	start := time.Now()

	updated, err := p.process(ctx, item)
	telemetry.ItemDuration.WithLabelValues(string(p.lane)).Observe(time.Since(start).Seconds())

	// Ack/Nack доводим до конца даже при остановке пула
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err == nil {
		p.complete(settleCtx, logger, item, updated)
		return
	}

	outcome, nackErr := p.queue.Nack(settleCtx, item, err)
	if nackErr != nil {
		if errors.Is(nackErr, queue.ErrItemNotFound) {
			logger.Warn("item removed from queue while processing", "error", err)
			return
		}
		// Элемент остаётся в active; его заберёт reclaim по истечении аренды
		logger.Error("failed to nack item, left for reclaim", "error", nackErr, "cause", err)
		return
	}

	p.reportFailure(settleCtx, logger, item, outcome, err)
}

// reportFailure учитывает неудачную попытку: повтор или окончательный отказ.
func (p *Pool) reportFailure(ctx context.Context, logger *slog.Logger, item *domain.QueueItem, outcome queue.Outcome, err error) {
	if outcome.Retrying {
		p.retried.Add(1)
		telemetry.ItemsRetried.WithLabelValues(string(p.lane)).Inc()
		logger.Warn("item failed, retry scheduled",
			"attempt", outcome.Attempt,
			"delay", outcome.Delay,
			"error", err,
		)
		return
	}

	p.failed.Add(1)
	telemetry.ItemsFailed.WithLabelValues(string(p.lane)).Inc()
	logger.Error("item failed permanently",
		"attempts", outcome.Attempt,
		"records", item.Size(),
		"error", err,
	)

	if p.observer != nil {
		p.observer.ItemFailed(item, err)
	}

	if p.publisher != nil {
		payload := mq.BatchFailedPayload{
			RunID:    item.RunID,
			ItemID:   item.ID,
			Lane:     string(p.lane),
			Records:  item.Size(),
			Attempts: outcome.Attempt,
			Error:    err.Error(),
		}
		if err := p.publisher.PublishBatchFailed(ctx, payload); err != nil {
			logger.Warn("failed to publish batch.failed", "error", err)
		}
	}
}

// process выполняет обновление пакета. Пустой пакет — успех без обращения к хранилищу.
func (p *Pool) process(ctx context.Context, item *domain.QueueItem) (int64, error) {
	if item.Size() == 0 {
		return 0, nil
	}

	updated, err := p.store.MarkProcessed(ctx, item.IDs, p.lane.Annotation())
	if err != nil {
		return 0, fmt.Errorf("mark processed: %w", err)
	}
	return updated, nil
}

// complete подтверждает элемент и уведомляет наблюдателя.
func (p *Pool) complete(ctx context.Context, logger *slog.Logger, item *domain.QueueItem, updated int64) {
	if err := p.queue.Ack(ctx, item); err != nil {
		// Пакет записан: наблюдатель уведомляется в любом случае, повторная
		// доставка после reclaim учитывается им один раз
		if errors.Is(err, queue.ErrItemNotFound) {
			logger.Warn("item removed from queue before ack")
		} else {
			logger.Error("failed to ack item", "error", err)
		}
	}

	p.processed.Add(1)
	p.records.Add(updated)
	telemetry.ItemsProcessed.WithLabelValues(string(p.lane)).Inc()
	telemetry.RecordsProcessed.WithLabelValues(string(p.lane)).Add(float64(updated))

	logger.Debug("item processed",
		"records", item.Size(),
		"updated", updated,
		"attempt", item.Attempt+1,
	)

	if p.observer != nil {
		p.observer.ItemCompleted(item, updated)
	}

	if p.publisher != nil {
		payload := mq.BatchCompletedPayload{
			RunID:   item.RunID,
			ItemID:  item.ID,
			Lane:    string(p.lane),
			Records: item.Size(),
			Updated: updated,
			Attempt: item.Attempt + 1,
		}
		if err := p.publisher.PublishBatchCompleted(ctx, payload); err != nil {
			logger.Warn("failed to publish batch.completed", "error", err)
		}
	}
}

// sleepCtx ждёт d или отмены ctx. Возвращает false при отмене.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
