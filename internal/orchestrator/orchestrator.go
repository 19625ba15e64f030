package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/enqueue"
	"github.com/shaiso/orderflow/internal/generator"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPublishTimeout = 5 * time.Second
)

// LanePolicy — политика изоляции линий.
type LanePolicy string

const (
	// LanePolicyConcurrent — обе линии обрабатываются сразу после постановки
	// в очередь; фаза лишь отражает, какую линию ждёт координатор.
	LanePolicyConcurrent LanePolicy = "concurrent"

	// LanePolicySequential — пул NORMAL стоит на паузе, пока не опустеет HIGH.
	LanePolicySequential LanePolicy = "sequential"
)

// ParseLanePolicy разбирает значение LANE_POLICY. Пустая строка — concurrent.
func ParseLanePolicy(s string) (LanePolicy, error) {
	switch LanePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LanePolicyConcurrent:
		return LanePolicyConcurrent, nil
	case LanePolicySequential:
		return LanePolicySequential, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLanePolicy, s)
	}
}

// Store — операции хранилища, нужные координатору.
type Store interface {
	enqueue.Scanner
	EnsureSchema(ctx context.Context) error
	Drop(ctx context.Context) error
}

// Generator — фаза GENERATING.
type Generator interface {
	Generate(ctx context.Context, total, batchSize int) (generator.Result, error)
}

// LaneControl — управление пулом линии (*worker.Pool).
type LaneControl interface {
	Pause()
	Resume()
}

// EventPublisher публикует run.finished. *mq.Publisher удовлетворяет интерфейсу.
type EventPublisher interface {
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}

// Coordinator ведёт единственный глобальный запуск:
//
//	GENERATING → ENQUEUEING → PROCESSING_HIGH → PROCESSING_NORMAL → COMPLETED
//
// Координатор реализует worker.Observer и enqueue.Observer:
// уведомления пулов уменьшают счётчики линий, а фаза PROCESSING_*
// ждёт, пока счётчик своей линии не дойдёт до нуля.
type Coordinator struct {
	store     Store
	generator Generator
	enqueuer  *enqueue.Enqueuer
	queues    map[domain.Lane]queue.Queue
	publisher EventPublisher
	policy    LanePolicy

	total               int
	generationBatchSize int

	state   *runState
	tracker *laneTracker

	poolsMu sync.Mutex
	pools   map[domain.Lane]LaneControl

	// runMu сериализует Start, Reset и Shutdown.
	runMu     sync.Mutex
	cancelRun context.CancelFunc
	runDone   chan struct{}

	logger *slog.Logger
	now    func() time.Time
}

// Config — конфигурация Coordinator.
type Config struct {
	Store     Store
	Generator Generator
	Queues    map[domain.Lane]queue.Queue

	// Publisher — события run.finished (опционально).
	Publisher EventPublisher

	LanePolicy LanePolicy

	Total               int // заказов за запуск (default: 1000000)
	GenerationBatchSize int // default: 10000
	EnqueueBatchSize    int // default: 500

	Logger *slog.Logger
}

// New создаёт Coordinator в состоянии IDLE.
func New(cfg Config) (*Coordinator, error) {
	for _, l := range domain.Lanes {
		if cfg.Queues[l] == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoQueue, l)
		}
	}

	policy := cfg.LanePolicy
	if policy == "" {
		policy = LanePolicyConcurrent
	}

	total := cfg.Total
	if total <= 0 {
		total = generator.DefaultTotal
	}

	genBatch := cfg.GenerationBatchSize
	if genBatch <= 0 {
		genBatch = generator.DefaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		store:               cfg.Store,
		generator:           cfg.Generator,
		queues:              cfg.Queues,
		publisher:           cfg.Publisher,
		policy:              policy,
		total:               total,
		generationBatchSize: genBatch,
		state:               newRunState(policy),
		tracker:             newLaneTracker(),
		pools:               make(map[domain.Lane]LaneControl),
		logger:              logger,
		now:                 time.Now,
	}

	c.enqueuer = enqueue.New(enqueue.Config{
		Store:     cfg.Store,
		Queues:    cfg.Queues,
		BatchSize: cfg.EnqueueBatchSize,
		Observer:  c,
		Logger:    logger,
	})

	telemetry.RunPhase.Set(float64(domain.PhaseIdle.Ordinal()))
	return c, nil
}

// AttachPool регистрирует пул линии для политики sequential.
func (c *Coordinator) AttachPool(lane domain.Lane, pool LaneControl) {
	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()
	c.pools[lane] = pool
}

// Start начинает новый запуск, если текущий завершён (IDLE, COMPLETED, ERROR).
// Иначе ничего не делает и возвращает false. Запуск выполняется в фоне;
// его ошибки видны только через Status.
func (c *Coordinator) Start(ctx context.Context) bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if phase := c.state.phase(); !phase.IsTerminal() {
		c.logger.Info("run already in progress", "phase", phase)
		return false
	}

	runID := uuid.New()
	startedAt := c.now()

	c.tracker.reset(runID)
	c.state.update(func(s *Status) {
		*s = initialStatus(c.policy)
		s.RunID = &runID
		s.StartedAt = &startedAt
		s.Status = domain.PhaseGenerating
	})
	telemetry.RunPhase.Set(float64(domain.PhaseGenerating.Ordinal()))

	// Запуск переживает контекст запроса, который его инициировал
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancelRun = cancel
	c.runDone = done

	go func() {
		defer close(done)
		defer cancel()
		c.run(runCtx, runID, startedAt)
	}()

	return true
}

// Status возвращает снимок состояния с текущим прогрессом линий.
func (c *Coordinator) Status() Status {
	s := c.state.snapshot()
	if s.RunID != nil {
		for _, l := range domain.Lanes {
			c.tracker.progress(*s.RunID, l, s.Lane(l))
		}
	}
	return s
}

// Reset очищает обе очереди, удаляет заказы и возвращает состояние в IDLE.
//
// Активный запуск прерывается до очистки и фиксируется как ERROR
// («run aborted»). При ошибке очистки состояние в IDLE не сбрасывается:
// для завершённого запуска оно остаётся прежним, для прерванного — ERROR.
// Повторный вызов безопасен.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.abortLocked()

	c.logger.Info("resetting system")

	for _, l := range domain.Lanes {
		if err := c.queues[l].Clear(ctx, true); err != nil {
			return fmt.Errorf("clear %s queue: %w", l, err)
		}
	}

	if err := c.store.Drop(ctx); err != nil {
		return fmt.Errorf("drop orders: %w", err)
	}

	c.tracker.reset(uuid.Nil)
	c.state.reset(c.policy)
	telemetry.RunPhase.Set(float64(domain.PhaseIdle.Ordinal()))

	c.logger.Info("system reset")
	return nil
}

// Wait ждёт завершения текущего запуска (если он есть).
func (c *Coordinator) Wait() {
	c.runMu.Lock()
	done := c.runDone
	c.runMu.Unlock()

	if done != nil {
		<-done
	}
}

// Shutdown прерывает активный запуск и ждёт его завершения.
func (c *Coordinator) Shutdown() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.abortLocked()
}

// abortLocked отменяет активный запуск и ждёт выхода горутины. Вызывается под runMu.
func (c *Coordinator) abortLocked() {
	if c.runDone == nil {
		return
	}
	select {
	case <-c.runDone:
		return
	default:
	}

	c.logger.Warn("aborting active run")
	c.cancelRun()
	<-c.runDone
}

// run выполняет фазы запуска и фиксирует итог.
func (c *Coordinator) run(ctx context.Context, runID uuid.UUID, startedAt time.Time) {
	logger := telemetry.WithRunID(c.logger, runID.String())
	logger.Info("run started", "total", c.total, "lane_policy", c.policy)

	err := c.execute(ctx, runID, logger)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrRunAborted, err)
		}
		c.state.update(func(s *Status) {
			msg := err.Error()
			s.Status = domain.PhaseError
			s.Error = &msg
		})
		telemetry.RunPhase.Set(float64(domain.PhaseError.Ordinal()))
		telemetry.RunsTotal.WithLabelValues(string(domain.PhaseError)).Inc()
		logger.Error("run failed", "error", err)
		c.publishFinished(runID)
		return
	}

	total := c.now().Sub(startedAt)
	c.state.update(func(s *Status) {
		s.Status = domain.PhaseCompleted
		s.TotalTime = total.Seconds()
	})
	telemetry.RunPhase.Set(float64(domain.PhaseCompleted.Ordinal()))
	telemetry.RunsTotal.WithLabelValues(string(domain.PhaseCompleted)).Inc()
	telemetry.RunDuration.Observe(total.Seconds())

	logger.Info("run completed", "total_time", total)
	c.publishFinished(runID)
}

// execute проходит фазы GENERATING → ENQUEUEING → PROCESSING_HIGH → PROCESSING_NORMAL.
func (c *Coordinator) execute(ctx context.Context, runID uuid.UUID, logger *slog.Logger) error {
	if err := c.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	res, err := c.generator.Generate(ctx, c.total, c.generationBatchSize)
	if err != nil {
		return fmt.Errorf("generation: %w", err)
	}

	c.setPhase(domain.PhaseEnqueueing, func(s *Status) {
		s.Generation = GenerationStats{
			Duration:  res.Duration.Seconds(),
			Count:     res.Inserted,
			Requested: res.Requested,
			Failed:    res.Failed,
		}
	})
	logger.Info("generation finished", "inserted", res.Inserted, "failed", res.Failed, "duration", res.Duration)

	if c.policy == LanePolicySequential {
		c.pause(domain.LaneNormal)
		defer c.resume(domain.LaneNormal)
	}

	counts, err := c.enqueuer.Run(ctx, runID)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	c.tracker.seal(runID)

	c.state.update(func(s *Status) {
		s.HighProcessing.Count = counts.High
		s.NormalProcessing.Count = counts.Normal
	})

	for _, lane := range domain.Lanes {
		if err := c.awaitLane(ctx, runID, lane, counts.Get(lane), logger); err != nil {
			return err
		}
		if lane == domain.LaneHigh && c.policy == LanePolicySequential {
			c.resume(domain.LaneNormal)
		}
	}

	return nil
}

// awaitLane переводит запуск в фазу линии и ждёт её опустошения.
// Линия без заказов завершается сразу: endTime = startTime.
func (c *Coordinator) awaitLane(ctx context.Context, runID uuid.UUID, lane domain.Lane, count int, logger *slog.Logger) error {
	logger = telemetry.WithLane(logger, string(lane))

	start := c.now()
	c.setPhase(domain.ProcessingPhase(lane), func(s *Status) {
		s.Lane(lane).StartTime = &start
	})

	if count == 0 {
		c.state.update(func(s *Status) {
			end := start
			s.Lane(lane).EndTime = &end
			s.Lane(lane).Duration = 0
		})
		logger.Info("lane empty, skipping")
		return nil
	}

	logger.Info("waiting for lane to drain", "orders", count)
	if err := c.tracker.wait(ctx, runID, lane); err != nil {
		return fmt.Errorf("wait for %s lane: %w", lane, err)
	}

	end := c.now()
	c.state.update(func(s *Status) {
		s.Lane(lane).EndTime = &end
		s.Lane(lane).Duration = end.Sub(start).Seconds()
	})

	var stats LaneStats
	c.tracker.progress(runID, lane, &stats)
	logger.Info("lane drained",
		"duration", end.Sub(start),
		"items", stats.Items,
		"failed_items", stats.FailedItems,
		"failed_records", stats.FailedRecords,
	)
	return nil
}

func (c *Coordinator) setPhase(phase domain.Phase, fn func(s *Status)) {
	c.state.update(func(s *Status) {
		s.Status = phase
		if fn != nil {
			fn(s)
		}
	})
	telemetry.RunPhase.Set(float64(phase.Ordinal()))
}

func (c *Coordinator) pause(lane domain.Lane) {
	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()
	if p := c.pools[lane]; p != nil {
		p.Pause()
	}
}

func (c *Coordinator) resume(lane domain.Lane) {
	c.poolsMu.Lock()
	defer c.poolsMu.Unlock()
	if p := c.pools[lane]; p != nil {
		p.Resume()
	}
}

// publishFinished публикует run.finished. Ошибка брокера не влияет на запуск.
func (c *Coordinator) publishFinished(runID uuid.UUID) {
	if c.publisher == nil {
		return
	}

	s := c.Status()
	payload := mq.RunFinishedPayload{
		RunID:         runID,
		Status:        string(s.Status),
		Generated:     s.Generation.Count,
		HighRecords:   s.HighProcessing.Count,
		NormalRecords: s.NormalProcessing.Count,
		FailedRecords: s.HighProcessing.FailedRecords + s.NormalProcessing.FailedRecords,
		TotalTime:     s.TotalTime,
	}
	if s.Error != nil {
		payload.Error = *s.Error
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	if err := c.publisher.PublishRunFinished(ctx, payload); err != nil {
		c.logger.Warn("failed to publish run.finished", "run_id", runID, "error", err)
	}
}
