package orchestrator

import (
	"github.com/shaiso/orderflow/internal/domain"
)

// ItemEnqueuing учитывает элемент до его постановки в очередь (enqueue.Observer).
func (c *Coordinator) ItemEnqueuing(item *domain.QueueItem) {
	c.tracker.add(item.RunID, item.Lane, item.ID)
}

// ItemCompleted снимает успешно обработанный элемент со счётчика линии (worker.Observer).
func (c *Coordinator) ItemCompleted(item *domain.QueueItem, updated int64) {
	c.tracker.done(item.RunID, item.Lane, item.ID, item.Size(), updated, false)
}

// ItemFailed снимает элемент, исчерпавший попытки (worker.Observer).
// Линия не блокируется: отказ учитывается в failedItems и failedRecords.
func (c *Coordinator) ItemFailed(item *domain.QueueItem, cause error) {
	c.logger.Warn("queue item failed permanently",
		"run_id", item.RunID,
		"lane", item.Lane,
		"item_id", item.ID,
		"records", item.Size(),
		"error", cause,
	)
	c.tracker.done(item.RunID, item.Lane, item.ID, item.Size(), 0, true)
}
