package domain

// Phase — фаза глобального запуска.
//
// Жизненный цикл:
//
//	IDLE → GENERATING → ENQUEUEING → PROCESSING_HIGH → PROCESSING_NORMAL → COMPLETED
//	            ↘ ERROR       ↘ ERROR
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseGenerating       Phase = "GENERATING"
	PhaseEnqueueing       Phase = "ENQUEUEING"
	PhaseProcessingHigh   Phase = "PROCESSING_HIGH"
	PhaseProcessingNormal Phase = "PROCESSING_NORMAL"
	PhaseCompleted        Phase = "COMPLETED"
	PhaseError            Phase = "ERROR"
)

// IsTerminal возвращает true, если из фазы можно начать новый запуск.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseIdle, PhaseCompleted, PhaseError:
		return true
	default:
		return false
	}
}

// Ordinal — порядковый номер фазы (для метрик).
func (p Phase) Ordinal() int {
	switch p {
	case PhaseIdle:
		return 0
	case PhaseGenerating:
		return 1
	case PhaseEnqueueing:
		return 2
	case PhaseProcessingHigh:
		return 3
	case PhaseProcessingNormal:
		return 4
	case PhaseCompleted:
		return 5
	case PhaseError:
		return 6
	default:
		return -1
	}
}

// ProcessingPhase возвращает фазу ожидания линии.
func ProcessingPhase(l Lane) Phase {
	if l == LaneHigh {
		return PhaseProcessingHigh
	}
	return PhaseProcessingNormal
}
