package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/orderflow/internal/domain"
)

// laneProgress — счётчики линии в рамках запуска.
type laneProgress struct {
	items            int
	pending          map[uuid.UUID]struct{}
	completed        int
	failed           int
	failedRecords    int
	processedRecords int64

	sealed  bool
	drained chan struct{} // закрывается один раз: sealed && pending == 0
}

func newLaneProgress() *laneProgress {
	return &laneProgress{
		pending: make(map[uuid.UUID]struct{}),
		drained: make(chan struct{}),
	}
}

// closeIfDrained закрывает drained ровно один раз.
func (p *laneProgress) closeIfDrained() {
	if !p.sealed || len(p.pending) > 0 {
		return
	}
	select {
	case <-p.drained:
	default:
		close(p.drained)
	}
}

// laneTracker — счётчик незавершённых элементов по линиям.
//
// Элемент учитывается до постановки в очередь (add) и снимается при
// успехе или окончательном отказе (done). После seal линия считается
// опустошённой, когда не остаётся незавершённых элементов. Уведомления
// с чужим runID (от предыдущего запуска) игнорируются.
type laneTracker struct {
	mu    sync.Mutex
	runID uuid.UUID
	lanes map[domain.Lane]*laneProgress
}

func newLaneTracker() *laneTracker {
	t := &laneTracker{}
	t.reset(uuid.Nil)
	return t
}

// reset начинает учёт для нового запуска.
func (t *laneTracker) reset(runID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runID = runID
	t.lanes = make(map[domain.Lane]*laneProgress, len(domain.Lanes))
	for _, l := range domain.Lanes {
		t.lanes[l] = newLaneProgress()
	}
}

func (t *laneTracker) lane(runID uuid.UUID, l domain.Lane) *laneProgress {
	if runID != t.runID || runID == uuid.Nil {
		return nil
	}
	return t.lanes[l]
}

func (t *laneTracker) add(runID uuid.UUID, l domain.Lane, itemID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lane(runID, l)
	if p == nil {
		return
	}
	if _, ok := p.pending[itemID]; ok {
		return
	}
	p.items++
	p.pending[itemID] = struct{}{}
}

// done снимает элемент со счётчика. Элемент может быть доставлен повторно
// (reclaim после записи без Ack): учитывается только первое уведомление.
func (t *laneTracker) done(runID uuid.UUID, l domain.Lane, itemID uuid.UUID, records int, updated int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lane(runID, l)
	if p == nil {
		return
	}
	if _, ok := p.pending[itemID]; !ok {
		return
	}

	delete(p.pending, itemID)
	if failed {
		p.failed++
		p.failedRecords += records
	} else {
		p.completed++
		p.processedRecords += updated
	}
	p.closeIfDrained()
}

// seal отмечает, что постановка в очередь завершена для всех линий.
func (t *laneTracker) seal(runID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, l := range domain.Lanes {
		p := t.lane(runID, l)
		if p == nil {
			return
		}
		p.sealed = true
		p.closeIfDrained()
	}
}

// wait блокируется до опустошения линии или отмены ctx.
func (t *laneTracker) wait(ctx context.Context, runID uuid.UUID, l domain.Lane) error {
	t.mu.Lock()
	p := t.lane(runID, l)
	t.mu.Unlock()

	if p == nil {
		return ErrStaleRun
	}

	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// progress копирует счётчики линии в stats (если runID текущий).
func (t *laneTracker) progress(runID uuid.UUID, l domain.Lane, stats *LaneStats) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.lane(runID, l)
	if p == nil {
		return
	}
	stats.Items = p.items
	stats.CompletedItems = p.completed
	stats.FailedItems = p.failed
	stats.FailedRecords = p.failedRecords
	stats.ProcessedRecords = p.processedRecords
}
