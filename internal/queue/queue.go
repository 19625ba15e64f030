package queue

import (
	"context"
	"time"

	"github.com/shaiso/orderflow/internal/domain"
)

// Queue — приоритетная очередь одной линии.
type Queue interface {
	// Name возвращает имя очереди.
	Name() string

	// Enqueue добавляет элемент. Возвращается после durable-приёма.
	Enqueue(ctx context.Context, item *domain.QueueItem) error

	// Dequeue выдаёт следующий готовый элемент и переводит его в active
	// с арендой на Policy.LeaseTimeout. Ждёт не дольше wait; если элементов
	// нет — ErrEmpty.
	Dequeue(ctx context.Context, wait time.Duration) (*domain.QueueItem, error)

	// Ack удаляет успешно обработанный элемент.
	Ack(ctx context.Context, item *domain.QueueItem) error

	// Nack фиксирует неудачную попытку: элемент откладывается по backoff
	// или, если попытки исчерпаны, переходит в failed.
	Nack(ctx context.Context, item *domain.QueueItem, cause error) (Outcome, error)

	// Release возвращает выданный элемент в начало waiting без учёта попытки.
	Release(ctx context.Context, item *domain.QueueItem) error

	// Reclaim забирает из active элементы с истёкшей арендой и учитывает
	// каждому неудачную попытку (ErrLeaseExpired), как Nack.
	Reclaim(ctx context.Context) ([]Reclaimed, error)

	// Counts возвращает количество элементов по состояниям.
	Counts(ctx context.Context) (Counts, error)

	// Clear удаляет все элементы во всех состояниях.
	// Без force отказывает, если есть активные элементы.
	Clear(ctx context.Context, force bool) error
}

// Counts — количество элементов по состояниям.
type Counts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Failed  int64 `json:"failed"`
}

// Outstanding — незавершённая работа: waiting + active + delayed.
func (c Counts) Outstanding() int64 {
	return c.Waiting + c.Active + c.Delayed
}

// Outcome — результат Nack.
type Outcome struct {
	// Retrying — элемент отложен для повторной попытки.
	Retrying bool

	// Attempt — количество сделанных попыток.
	Attempt int

	// Delay — задержка до следующей попытки (если Retrying).
	Delay time.Duration
}

// Reclaimed — элемент, забранный у потерянного обработчика.
type Reclaimed struct {
	Item    *domain.QueueItem
	Outcome Outcome
}

// Default retry policy values.
const (
	DefaultMaxAttempts  = 3
	DefaultBaseDelay    = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultLeaseTimeout = time.Minute
)

// Policy — политика повторов.
type Policy struct {
	MaxAttempts  int           // всего попыток, включая первую (default: 3)
	BaseDelay    time.Duration // задержка после первой неудачи (default: 1s)
	MaxDelay     time.Duration // верхняя граница задержки (default: 30s)
	LeaseTimeout time.Duration // аренда выданного элемента (default: 1m)
}

// DefaultPolicy возвращает политику по умолчанию: 3 попытки, 1s, ×2.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		LeaseTimeout: DefaultLeaseTimeout,
	}
}

// normalize подставляет значения по умолчанию.
func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.LeaseTimeout <= 0 {
		p.LeaseTimeout = DefaultLeaseTimeout
	}
	return p
}

// Backoff вычисляет задержку после attempt-й неудачи:
// delay = BaseDelay * 2^(attempt-1), но не больше MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalize()

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// recordNack обновляет журнал попыток элемента и решает его судьбу.
func recordNack(item *domain.QueueItem, cause error, policy Policy, now time.Time) Outcome {
	item.RecordFailure(cause, now)

	if !item.CanRetry(policy.MaxAttempts) {
		item.NextEligibleAt = nil
		return Outcome{Retrying: false, Attempt: item.Attempt}
	}

	delay := policy.Backoff(item.Attempt)
	next := now.Add(delay)
	item.NextEligibleAt = &next
	return Outcome{Retrying: true, Attempt: item.Attempt, Delay: delay}
}

// cloneItem возвращает копию элемента, не разделяющую слайсы с оригиналом.
func cloneItem(item *domain.QueueItem) *domain.QueueItem {
	cp := *item
	cp.IDs = append([]int64(nil), item.IDs...)
	cp.History = append([]domain.AttemptRecord(nil), item.History...)
	if item.NextEligibleAt != nil {
		t := *item.NextEligibleAt
		cp.NextEligibleAt = &t
	}
	return &cp
}
