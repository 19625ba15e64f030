// Package mq публикует и потребляет события orderflow через RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация событий
//   - consumer.go   — потребление и диспетчеризация по типу
//
// События (routing key = тип):
//   - batch.completed — пакет заказов обработан
//   - batch.failed    — пакет исчерпал попытки
//   - run.finished    — запуск завершён (COMPLETED или ERROR)
//
// Публикация best-effort: ошибка брокера логируется и не влияет на запуск.
package mq
