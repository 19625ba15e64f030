package mq

import "errors"

var (
	// ErrNoChannel — AMQP канал недоступен (нет соединения).
	ErrNoChannel = errors.New("no channel available")

	// ErrUnknownMessageType — для типа события нет обработчика.
	ErrUnknownMessageType = errors.New("unknown message type")
)
