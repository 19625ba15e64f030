package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/orchestrator"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/repo"
)

// Coordinator — операции запуска, доступные через API.
type Coordinator interface {
	Start(ctx context.Context) bool
	Status() orchestrator.Status
	Reset(ctx context.Context) error
}

// StatsSource — агрегаты заказов для /pedidos/stats.
type StatsSource interface {
	Stats(ctx context.Context) ([]repo.OrderStat, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	coord  Coordinator
	stats  StatsSource
	queues map[domain.Lane]queue.Queue
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Coordinator Coordinator

	// Stats и Queues нужны только для /pedidos/stats (опционально).
	Stats  StatsSource
	Queues map[domain.Lane]queue.Queue

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		coord:  cfg.Coordinator,
		stats:  cfg.Stats,
		queues: cfg.Queues,
		logger: logger,
	}
}
