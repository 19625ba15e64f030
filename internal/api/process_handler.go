package api

import (
	"net/http"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/repo"
)

// Ответы /start-process и /reset.
const (
	msgProcessStarted = "Process started. Monitor progress via GET /pedidos."
	msgProcessRunning = "Process already running. Monitor progress via GET /pedidos."
	msgResetDone      = "Database and queues reset successfully."
	msgResetFailed    = "Failed to reset the process."
)

// StartProcess запускает генерацию и обработку в фоне.
// Всегда отвечает 202: ошибки запуска видны только через GET /pedidos.
// POST /start-process
func (h *Handler) StartProcess(w http.ResponseWriter, r *http.Request) {
	if !h.coord.Start(r.Context()) {
		Message(w, http.StatusAccepted, msgProcessRunning)
		return
	}
	Message(w, http.StatusAccepted, msgProcessStarted)
}

// GetStatus возвращает снимок состояния запуска.
// GET /pedidos
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.coord.Status())
}

// Reset очищает очереди и заказы.
// POST /reset
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Reset(r.Context()); err != nil {
		h.logger.Error("reset failed", "error", err)
		MessageError(w, http.StatusInternalServerError, msgResetFailed, err)
		return
	}
	Message(w, http.StatusOK, msgResetDone)
}

// StatsResponse — ответ /pedidos/stats.
type StatsResponse struct {
	Orders []repo.OrderStat             `json:"orders"`
	Queues map[domain.Lane]queue.Counts `json:"queues"`
}

// GetStats возвращает агрегаты заказов и размеры очередей.
// GET /pedidos/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Orders: []repo.OrderStat{},
		Queues: make(map[domain.Lane]queue.Counts, len(h.queues)),
	}

	if h.stats != nil {
		stats, err := h.stats.Stats(r.Context())
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		if stats != nil {
			resp.Orders = stats
		}
	}

	for lane, q := range h.queues {
		counts, err := q.Counts(r.Context())
		if err != nil {
			InternalError(w, h.logger, err)
			return
		}
		resp.Queues[lane] = counts
	}

	JSON(w, http.StatusOK, resp)
}
