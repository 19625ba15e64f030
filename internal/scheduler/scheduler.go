package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	defaultTickInterval = time.Second
	releaseTimeout      = 5 * time.Second
)

// Trigger — запуск конвейера (orchestrator.Coordinator).
type Trigger interface {
	Start(ctx context.Context) bool
}

// Leader — выбор лидера между экземплярами (repo.AdvisoryLock).
// TryAcquire возвращает true, пока лидерство удерживается этим экземпляром.
// Release отдаёт лидерство; Run вызывает его при остановке.
type Leader interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Scheduler запускает конвейер по cron-расписанию.
//
// Если к моменту срабатывания предыдущий запуск ещё идёт,
// срабатывание пропускается (Trigger.Start возвращает false).
type Scheduler struct {
	schedule     cron.Schedule
	expr         string
	trigger      Trigger
	leader       Leader
	tickInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	nextDue time.Time
	last    *time.Time
	fired   int
	skipped int
}

// Config — конфигурация Scheduler.
type Config struct {
	// Expr — cron-выражение (RUN_SCHEDULE).
	Expr     string
	Timezone string

	Trigger Trigger

	// Leader — опционально; nil — экземпляр всегда лидер.
	Leader Leader

	TickInterval time.Duration // default: 1s
	Logger       *slog.Logger
}

// New создаёт Scheduler. Первое срабатывание — следующее по расписанию после now.
func New(cfg Config, now time.Time) (*Scheduler, error) {
	schedule, err := ParseSchedule(cfg.Expr, cfg.Timezone)
	if err != nil {
		return nil, err
	}

	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedule:     schedule,
		expr:         cfg.Expr,
		trigger:      cfg.Trigger,
		leader:       cfg.Leader,
		tickInterval: tick,
		logger:       logger,
		nextDue:      schedule.Next(now),
	}, nil
}

// Tick срабатывает, если наступило время nextDue.
// Возвращает true, если новый запуск начат.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Before(s.nextDue) {
		return false
	}

	if s.leader != nil {
		ok, err := s.leader.TryAcquire(ctx)
		if err != nil {
			s.logger.Warn("leader check failed", "error", err)
			return false
		}
		if !ok {
			// не лидер — двигаем расписание, чтобы не срабатывать пачкой после получения лидерства
			s.nextDue = s.schedule.Next(now)
			return false
		}
	}

	due := s.nextDue
	s.nextDue = s.schedule.Next(now)

	if !s.trigger.Start(ctx) {
		s.skipped++
		s.logger.Info("scheduled run skipped: run in progress",
			"due", due,
			"next_due", s.nextDue,
		)
		return false
	}

	s.fired++
	t := now
	s.last = &t
	s.logger.Info("scheduled run started",
		"due", due,
		"next_due", s.nextDue,
	)
	return true
}

// Run вызывает Tick каждые TickInterval до отмены ctx.
// При остановке отдаёт лидерство: блокировка держит соединение из пула БД.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "schedule", s.expr, "next_due", s.NextDue())

	tk := time.NewTicker(s.tickInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			s.releaseLeader(ctx)
			s.logger.Info("scheduler stopped")
			return
		case t := <-tk.C:
			s.Tick(ctx, t)
		}
	}
}

func (s *Scheduler) releaseLeader(ctx context.Context) {
	if s.leader == nil {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.leader.Release(releaseCtx); err != nil {
		s.logger.Warn("failed to release scheduler leadership", "error", err)
	}
}

// NextDue возвращает время следующего срабатывания.
func (s *Scheduler) NextDue() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDue
}

// Stats — счётчики срабатываний.
type Stats struct {
	NextDue time.Time  `json:"next_due"`
	LastRun *time.Time `json:"last_run,omitempty"`
	Fired   int        `json:"fired"`
	Skipped int        `json:"skipped"`
}

// Stats возвращает счётчики срабатываний.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{NextDue: s.nextDue, Fired: s.fired, Skipped: s.skipped}
	if s.last != nil {
		t := *s.last
		st.LastRun = &t
	}
	return st
}
