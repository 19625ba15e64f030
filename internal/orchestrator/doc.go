// Package orchestrator ведёт глобальный запуск конвейера.
//
// Coordinator владеет единственным состоянием запуска и проходит фазы:
//
//	IDLE → GENERATING → ENQUEUEING → PROCESSING_HIGH → PROCESSING_NORMAL → COMPLETED
//
// Ошибка генерации или постановки в очередь переводит запуск в ERROR.
// Новый запуск возможен только из IDLE, COMPLETED или ERROR;
// Start в любой другой фазе ничего не делает.
//
// Опустошение линии определяется счётчиком элементов (laneTracker):
// enqueuer увеличивает его перед каждой постановкой, пул уменьшает
// при успехе или окончательном отказе элемента. Фаза PROCESSING_*
// ждёт закрытия канала своей линии, без опроса очереди.
//
// Status возвращает копию состояния. Reset очищает очереди и хранилище
// и возвращает состояние в IDLE.
package orchestrator
