package queue

import "errors"

// Ошибки очередей.
var (
	// ErrEmpty — за время ожидания не появилось ни одного элемента.
	ErrEmpty = errors.New("queue is empty")

	// ErrItemNotFound — элемент не найден среди активных (например, очередь очищена).
	ErrItemNotFound = errors.New("queue item not found")

	// ErrQueueBusy — очистка без force при наличии активных элементов.
	ErrQueueBusy = errors.New("queue has active items")

	// ErrLeaseExpired — обработчик не подтвердил элемент до конца аренды.
	ErrLeaseExpired = errors.New("queue item lease expired")
)
