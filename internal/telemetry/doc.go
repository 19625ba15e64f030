// Package telemetry обеспечивает наблюдаемость orderflow.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики конвейера
//
// Метрики экспортируются на /metrics endpoint API.
package telemetry
