package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueItem — элемент очереди: пакет идентификаторов заказов.
//
// Состав пакета (IDs) не меняется после постановки в очередь.
// Attempt, History и NextEligibleAt образуют журнал повторов.
type QueueItem struct {
	ID uuid.UUID `json:"id"`

	// RunID — запуск, в рамках которого создан элемент.
	RunID uuid.UUID `json:"run_id"`

	Lane Lane    `json:"lane"`
	IDs  []int64 `json:"ids"`

	// Attempt — количество уже сделанных попыток.
	Attempt int `json:"attempt"`

	// History — история неудачных попыток.
	History []AttemptRecord `json:"history,omitempty"`

	// NextEligibleAt — время, раньше которого элемент не выдаётся воркеру.
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AttemptRecord — запись о неудачной попытке.
type AttemptRecord struct {
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// NewQueueItem создаёт элемент очереди. Слайс IDs копируется.
func NewQueueItem(runID uuid.UUID, lane Lane, ids []int64) *QueueItem {
	batch := make([]int64, len(ids))
	copy(batch, ids)

	return &QueueItem{
		ID:         uuid.New(),
		RunID:      runID,
		Lane:       lane,
		IDs:        batch,
		EnqueuedAt: time.Now(),
	}
}

// RecordFailure фиксирует неудачную попытку.
func (i *QueueItem) RecordFailure(cause error, now time.Time) {
	i.Attempt++
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	i.History = append(i.History, AttemptRecord{
		Attempt:  i.Attempt,
		Error:    msg,
		FailedAt: now,
	})
}

// LastError возвращает текст последней ошибки.
func (i *QueueItem) LastError() string {
	if len(i.History) == 0 {
		return ""
	}
	return i.History[len(i.History)-1].Error
}

// CanRetry проверяет, можно ли сделать ещё одну попытку.
func (i *QueueItem) CanRetry(maxAttempts int) bool {
	return i.Attempt < maxAttempts
}

// Size возвращает количество заказов в пакете.
func (i *QueueItem) Size() int {
	return len(i.IDs)
}
