package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Process
	mux.Handle("POST /start-process", chain(http.HandlerFunc(h.StartProcess)))
	mux.Handle("GET /pedidos", chain(http.HandlerFunc(h.GetStatus)))
	mux.Handle("GET /pedidos/stats", chain(http.HandlerFunc(h.GetStats)))
	mux.Handle("POST /reset", chain(http.HandlerFunc(h.Reset)))

	// Health и metrics
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
}
