package domain

import "fmt"

// Lane — линия обработки (приоритетная очередь + пул воркеров).
// Линий ровно две, динамически они не создаются.
type Lane string

const (
	LaneHigh   Lane = "HIGH"
	LaneNormal Lane = "NORMAL"
)

// Lanes — линии в порядке, в котором координатор ожидает их опустошения.
var Lanes = []Lane{LaneHigh, LaneNormal}

// Имена очередей.
const (
	QueueHighPriority = "high-priority-orders"
	QueueNormal       = "normal-orders"
)

// LaneForPriority возвращает линию для класса приоритета.
func LaneForPriority(p Priority) Lane {
	if p == PriorityHigh {
		return LaneHigh
	}
	return LaneNormal
}

// Priority возвращает класс приоритета записей, которые попадают в линию.
func (l Lane) Priority() Priority {
	if l == LaneHigh {
		return PriorityHigh
	}
	return PriorityNormal
}

// QueueName возвращает имя очереди линии.
func (l Lane) QueueName() string {
	if l == LaneHigh {
		return QueueHighPriority
	}
	return QueueNormal
}

// Annotation — пометка, которую воркер линии записывает в обработанные заказы.
func (l Lane) Annotation() string {
	if l == LaneHigh {
		return "sent with priority"
	}
	return "processed without priority"
}

// ParseLane парсит строку в Lane.
func ParseLane(s string) (Lane, error) {
	switch Lane(s) {
	case LaneHigh, LaneNormal:
		return Lane(s), nil
	default:
		return "", fmt.Errorf("unknown lane %q", s)
	}
}
