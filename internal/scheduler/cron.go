package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер 5-польных cron-выражений (допускает @hourly, @every 30m).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule разбирает cron-выражение в заданной timezone.
// Пустая или невалидная timezone — UTC.
func ParseSchedule(expr, timezone string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}

	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}

	return inLocation{schedule: schedule, loc: loc}, nil
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// inLocation вычисляет следующее время в timezone расписания, возвращает UTC.
type inLocation struct {
	schedule cron.Schedule
	loc      *time.Location
}

func (s inLocation) Next(from time.Time) time.Time {
	return s.schedule.Next(from.In(s.loc)).UTC()
}
