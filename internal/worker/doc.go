// Package worker обрабатывает пакеты заказов одной линии.
//
// Pool привязан к одной очереди (HIGH или NORMAL) и выполняет
// не больше Concurrency обработчиков одновременно (semaphore).
// Обработчик делает один MarkProcessed на пакет с аннотацией линии:
//
//	pool := worker.New(worker.Config{
//	    Lane:     domain.LaneHigh,
//	    Queue:    highQueue,
//	    Store:    orderRepo,
//	    Observer: coordinator,
//	    Logger:   logger,
//	})
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop()
//
// Ошибка хранилища возвращается очереди через Nack: очередь откладывает
// элемент по backoff или, если попытки исчерпаны, переводит в failed.
// Observer получает ItemCompleted на каждый успешный пакет
// и ItemFailed на каждый исчерпавший попытки.
//
// Если Nack или Ack не дошли до очереди, элемент остаётся в active до
// истечения аренды; фоновый цикл reclaim возвращает его в работу
// или, при исчерпанных попытках, сообщает ItemFailed.
//
// Pause/Resume останавливают выдачу новых элементов, не прерывая текущие.
package worker
