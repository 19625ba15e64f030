package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает одно событие orderflow.
// Ошибка означает, что событие не обработано.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — декодированное событие и исходная доставка брокера.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// settlement — как подтвердить доставку брокеру.
type settlement int

const (
	settleAck        settlement = iota // обработано
	settleRequeue                      // вернуть в очередь для повторной доставки
	settleDeadLetter                   // отправить в DLQ
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// settleFor выбирает подтверждение по результату обработчика:
// событие возвращается в очередь один раз, повторная неудача — в DLQ.
func settleFor(err error, redelivered bool) settlement {
	switch {
	case err == nil:
		return settleAck
	case errors.Is(err, errMalformed), redelivered:
		return settleDeadLetter
	default:
		return settleRequeue
	}
}

var errMalformed = errors.New("malformed event")

// Consumer читает события orderflow из очереди и передаёт их Handler.
// После переподключения брокера потребление перезапускается.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue    string  // очередь событий, например QueueEventsAudit
	Handler  Handler // обычно Dispatch или AuditHandler
	Prefetch int     // неподтверждённых доставок на канал (default: 1)
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Run потребляет события до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe(ctx)
		if err != nil {
			c.logger.Error("failed to subscribe to events", "error", err)
		} else {
			c.logger.Info("consuming events")
			c.drain(ctx, deliveries)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Канал доставки закрыт или подписка не удалась: ждём нового соединения
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Redialed():
			c.logger.Info("event broker redialed, resubscribing")
		}
	}
}

func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	err := c.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := ch.Qos(c.prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}

		var err error
		deliveries, err = ch.ConsumeWithContext(ctx, c.queue,
			"",    // consumer tag
			false, // auto-ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		return nil
	})
	return deliveries, err
}

// drain обрабатывает доставки, пока канал открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				c.logger.Warn("event deliveries closed")
				return
			}
			c.settle(raw, c.handle(ctx, raw))
		}
	}
}

// handle декодирует событие и вызывает обработчик.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) error {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to decode event", "error", err, "body", string(raw.Body))
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)
	logger.Debug("event received")

	if err := c.handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		logger.Error("event handler failed", "error", err, "redelivered", raw.Redelivered)
		return err
	}
	return nil
}

func (c *Consumer) settle(raw amqp.Delivery, err error) {
	var ackErr error
	switch s := settleFor(err, raw.Redelivered); s {
	case settleAck:
		ackErr = raw.Ack(false)
	default:
		ackErr = raw.Nack(false, s == settleRequeue)
	}
	if ackErr != nil {
		c.logger.Warn("failed to settle event delivery", "error", ackErr)
	}
}

// ParsePayload декодирует payload события в T.
// После JSON-декодирования Message.Payload — map, поэтому payload
// перекодируется через JSON.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}

// Dispatch возвращает Handler, выбирающий обработчик по типу события.
// Для неизвестного типа возвращается ErrUnknownMessageType.
func Dispatch(handlers map[MessageType]Handler) Handler {
	return func(ctx context.Context, d *Delivery) error {
		h, ok := handlers[d.Message.Type]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMessageType, d.Message.Type)
		}
		return h(ctx, d)
	}
}
