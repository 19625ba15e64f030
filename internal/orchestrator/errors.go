package orchestrator

import "errors"

// Ошибки координатора.
var (
	// ErrStaleRun — операция относится к запуску, который уже не текущий.
	ErrStaleRun = errors.New("run is no longer current")

	// ErrRunAborted — запуск прерван (reset или остановка процесса).
	ErrRunAborted = errors.New("run aborted")

	// ErrUnknownLanePolicy — неизвестное значение LANE_POLICY.
	ErrUnknownLanePolicy = errors.New("unknown lane policy")

	// ErrNoQueue — для линии не настроена очередь.
	ErrNoQueue = errors.New("no queue configured for lane")
)
