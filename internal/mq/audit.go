package mq

import (
	"context"
	"log/slog"

	"github.com/shaiso/orderflow/internal/telemetry"
)

// AuditHandler возвращает обработчик очереди orderflow.events.audit:
// каждое событие пишется в лог со своими полями.
// Некорректный payload возвращает ошибку (повтор, затем DLQ).
func AuditHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return Dispatch(map[MessageType]Handler{
		MessageTypeBatchCompleted: func(_ context.Context, d *Delivery) error {
			p, err := ParsePayload[BatchCompletedPayload](&d.Message)
			if err != nil {
				return err
			}
			telemetry.EventsConsumed.WithLabelValues(string(d.Message.Type)).Inc()
			logger.Info("batch completed",
				"run_id", p.RunID,
				"item_id", p.ItemID,
				"lane", p.Lane,
				"records", p.Records,
				"updated", p.Updated,
				"attempt", p.Attempt,
			)
			return nil
		},
		MessageTypeBatchFailed: func(_ context.Context, d *Delivery) error {
			p, err := ParsePayload[BatchFailedPayload](&d.Message)
			if err != nil {
				return err
			}
			telemetry.EventsConsumed.WithLabelValues(string(d.Message.Type)).Inc()
			logger.Warn("batch failed",
				"run_id", p.RunID,
				"item_id", p.ItemID,
				"lane", p.Lane,
				"records", p.Records,
				"attempts", p.Attempts,
				"error", p.Error,
			)
			return nil
		},
		MessageTypeRunFinished: func(_ context.Context, d *Delivery) error {
			p, err := ParsePayload[RunFinishedPayload](&d.Message)
			if err != nil {
				return err
			}
			telemetry.EventsConsumed.WithLabelValues(string(d.Message.Type)).Inc()

			level := slog.LevelInfo
			if p.Error != "" {
				level = slog.LevelError
			}
			logger.Log(context.Background(), level, "run finished",
				"run_id", p.RunID,
				"status", p.Status,
				"error", p.Error,
				"generated", p.Generated,
				"high_records", p.HighRecords,
				"normal_records", p.NormalRecords,
				"failed_records", p.FailedRecords,
				"total_time", p.TotalTime,
			)
			return nil
		},
	})
}
