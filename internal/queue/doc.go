// Package queue реализует приоритетные очереди пакетов заказов.
//
// Очередь хранит элементы (domain.QueueItem) в четырёх состояниях:
//
//	waiting → active → (ack) удалён
//	                 ↘ (nack) delayed → waiting      пока попытки не исчерпаны
//	                 ↘ (nack) failed                  после MaxAttempts
//	                 ↘ (release) waiting              без учёта попытки
//
// Выданный элемент арендован на Policy.LeaseTimeout. Reclaim забирает
// элементы с истёкшей арендой (обработчик упал или не дошёл до Ack/Nack)
// и учитывает им неудачную попытку, как Nack с ErrLeaseExpired.
//
// Повторы не делегируются брокеру: у каждого элемента есть журнал попыток
// (Attempt, History) и время NextEligibleAt. Отложенные элементы лежат в
// отсортированном по этому времени наборе и переносятся в waiting циклом
// выдачи (Dequeue).
//
// Реализации:
//   - RedisQueue  — durable очередь в Redis (go-redis)
//   - MemoryQueue — очередь в памяти (тесты, локальный запуск)
//
// Незавершённая работа линии — waiting + active + delayed. Элементы в failed
// в неё не входят и не мешают определению опустошения линии.
package queue
