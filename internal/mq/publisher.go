package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип события.
type MessageType string

// Типы событий.
const (
	MessageTypeBatchCompleted MessageType = "batch.completed"
	MessageTypeBatchFailed    MessageType = "batch.failed"
	MessageTypeRunFinished    MessageType = "run.finished"
)

// Publisher публикует события в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт события.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип события.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// BatchCompletedPayload — пакет заказов успешно обработан.
type BatchCompletedPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	ItemID  uuid.UUID `json:"item_id"`
	Lane    string    `json:"lane"`
	Records int       `json:"records"`
	Updated int64     `json:"updated"`
	Attempt int       `json:"attempt"`
}

// BatchFailedPayload — пакет исчерпал попытки.
type BatchFailedPayload struct {
	RunID    uuid.UUID `json:"run_id"`
	ItemID   uuid.UUID `json:"item_id"`
	Lane     string    `json:"lane"`
	Records  int       `json:"records"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
}

// RunFinishedPayload — запуск завершился (COMPLETED или ERROR).
type RunFinishedPayload struct {
	RunID         uuid.UUID `json:"run_id"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Generated     int       `json:"generated"`
	HighRecords   int       `json:"high_records"`
	NormalRecords int       `json:"normal_records"`
	FailedRecords int       `json:"failed_records"`
	TotalTime     float64   `json:"total_time"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published event",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishBatchCompleted публикует batch.completed.
func (p *Publisher) PublishBatchCompleted(ctx context.Context, payload BatchCompletedPayload) error {
	msg := NewMessage(MessageTypeBatchCompleted, payload)
	return p.Publish(ctx, ExchangeEvents, RoutingKeyFor(msg.Type), msg)
}

// PublishBatchFailed публикует batch.failed.
func (p *Publisher) PublishBatchFailed(ctx context.Context, payload BatchFailedPayload) error {
	msg := NewMessage(MessageTypeBatchFailed, payload)
	return p.Publish(ctx, ExchangeEvents, RoutingKeyFor(msg.Type), msg)
}

// PublishRunFinished публикует run.finished.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	msg := NewMessage(MessageTypeRunFinished, payload)
	return p.Publish(ctx, ExchangeEvents, RoutingKeyFor(msg.Type), msg)
}
