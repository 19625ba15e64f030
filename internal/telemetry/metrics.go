package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики конвейера. Метка lane: HIGH | NORMAL.
var (
	// OrdersGenerated — вставленные генератором заказы.
	OrdersGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderflow_orders_generated_total",
		Help: "Orders inserted by the generator",
	})

	// OrdersEnqueued — идентификаторы, поставленные в очередь.
	OrdersEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_orders_enqueued_total",
		Help: "Order ids enqueued per lane",
	}, []string{"lane"})

	// ItemsProcessed — успешно обработанные пакеты.
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_items_processed_total",
		Help: "Queue items processed successfully per lane",
	}, []string{"lane"})

	// ItemsRetried — неудачные попытки с последующим повтором.
	ItemsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_items_retried_total",
		Help: "Queue item attempts scheduled for retry per lane",
	}, []string{"lane"})

	// ItemsReclaimed — элементы, забранные по истечении аренды.
	ItemsReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_items_reclaimed_total",
		Help: "Queue items reclaimed after lease expiry per lane",
	}, []string{"lane"})

	// ItemsFailed — пакеты, исчерпавшие попытки.
	ItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_items_failed_total",
		Help: "Queue items permanently failed per lane",
	}, []string{"lane"})

	// RecordsProcessed — заказы, переведённые в PROCESSED.
	RecordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_records_processed_total",
		Help: "Orders marked processed per lane",
	}, []string{"lane"})

	// ItemDuration — время обработки одного пакета.
	ItemDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_item_duration_seconds",
		Help:    "Queue item handler duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"lane"})

	// RunPhase — текущая фаза запуска (порядковый номер фазы).
	RunPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderflow_run_phase",
		Help: "Current run phase ordinal (0=IDLE ... 6=ERROR)",
	})

	// RunsTotal — завершённые запуски по статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_runs_total",
		Help: "Finished runs by final status",
	}, []string{"status"})

	// RunDuration — полная длительность запуска.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderflow_run_duration_seconds",
		Help:    "Run duration from start to COMPLETED",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	// HTTPRequests — запросы к API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_http_requests_total",
		Help: "HTTP requests handled by the API",
	}, []string{"method", "status"})

	// EventsConsumed — события, прочитанные audit-потребителем.
	EventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_events_consumed_total",
		Help: "Events consumed from the audit queue by type",
	}, []string{"type"})
)
