// Package scheduler запускает конвейер по cron-расписанию.
//
// Структура:
//   - scheduler.go — Scheduler (Tick, Run)
//   - cron.go      — парсинг cron-выражений с учётом timezone
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Expr:    "0 3 * * *",
//	    Trigger: coordinator,
//	    Leader:  repo.NewAdvisoryLock(pool, repo.SchedulerLockKey), // опционально
//	    Logger:  logger,
//	}, time.Now())
//	if err != nil {
//	    return err
//	}
//	go sched.Run(ctx)
//
// Срабатывание во время активного запуска пропускается:
// координатор не начинает новый запуск, пока текущий не завершён.
//
// Leader election:
//
// При нескольких экземплярах срабатывает только держатель
// pg_try_advisory_lock (repo.AdvisoryLock).
package scheduler
