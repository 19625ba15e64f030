// Package api содержит HTTP API orderflow.
//
// Структура:
//   - handler.go         — Handler с DI (координатор, статистика, очереди)
//   - routes.go          — регистрация маршрутов
//   - middleware.go      — logging, recovery, metrics
//   - response.go        — JSON-ответы
//   - process_handler.go — обработчики запуска
//
// Маршруты:
//
//	POST /start-process  202 {message}
//	GET  /pedidos        200 снимок состояния запуска
//	GET  /pedidos/stats  200 агрегаты заказов и размеры очередей
//	POST /reset          200 {message} | 500 {message, error}
//	GET  /healthz
//	GET  /metrics
package api
