package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/orderflow/internal/domain"
)

// Status — снимок состояния запуска.
//
// Снимок не разделяет память с состоянием координатора:
// изменение полученного значения не влияет на координатор.
type Status struct {
	RunID     *uuid.UUID   `json:"runId"`
	Status    domain.Phase `json:"status"`
	Error     *string      `json:"error"`
	StartedAt *time.Time   `json:"startedAt"`

	Generation       GenerationStats `json:"generation"`
	HighProcessing   LaneStats       `json:"highProcessing"`
	NormalProcessing LaneStats       `json:"normalProcessing"`

	// TotalTime — секунды от старта до COMPLETED.
	TotalTime float64 `json:"totalTime"`

	LanePolicy LanePolicy `json:"lanePolicy"`
}

// GenerationStats — итог фазы GENERATING.
type GenerationStats struct {
	Duration  float64 `json:"duration"` // секунды
	Count     int     `json:"count"`    // вставлено
	Requested int     `json:"requested"`
	Failed    int     `json:"failed"`
}

// LaneStats — метрики обработки одной линии.
type LaneStats struct {
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Duration  float64    `json:"duration"` // секунды

	// Count — заказов, назначенных линии при постановке в очередь.
	Count int `json:"count"`

	Items            int   `json:"items"`
	CompletedItems   int   `json:"completedItems"`
	FailedItems      int   `json:"failedItems"`
	FailedRecords    int   `json:"failedRecords"`
	ProcessedRecords int64 `json:"processedRecords"`
}

// Lane возвращает метрики линии.
func (s *Status) Lane(l domain.Lane) *LaneStats {
	if l == domain.LaneHigh {
		return &s.HighProcessing
	}
	return &s.NormalProcessing
}

// initialStatus — состояние IDLE без метрик.
func initialStatus(policy LanePolicy) Status {
	return Status{
		Status:     domain.PhaseIdle,
		LanePolicy: policy,
	}
}

func (s Status) clone() Status {
	cp := s
	cp.RunID = clonePtr(s.RunID)
	cp.Error = clonePtr(s.Error)
	cp.StartedAt = clonePtr(s.StartedAt)
	cp.HighProcessing = s.HighProcessing.clone()
	cp.NormalProcessing = s.NormalProcessing.clone()
	return cp
}

func (l LaneStats) clone() LaneStats {
	cp := l
	cp.StartTime = clonePtr(l.StartTime)
	cp.EndTime = clonePtr(l.EndTime)
	return cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// runState хранит состояние запуска.
//
// Пишет только координатор (горутина запуска, Start и Reset);
// читатели получают копии.
type runState struct {
	mu sync.RWMutex
	s  Status
}

func newRunState(policy LanePolicy) *runState {
	return &runState{s: initialStatus(policy)}
}

func (r *runState) snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.clone()
}

func (r *runState) update(fn func(s *Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s)
}

func (r *runState) phase() domain.Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.Status
}

func (r *runState) reset(policy LanePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s = initialStatus(policy)
}
