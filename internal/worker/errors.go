package worker

import "errors"

// Ошибки пула.
var (
	// ErrPoolStarted — пул уже запущен.
	ErrPoolStarted = errors.New("worker pool already started")

	// ErrPoolStopped — пул остановлен и не может быть перезапущен.
	ErrPoolStopped = errors.New("worker pool stopped")
)
