package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOrder — заказ не прошёл проверку перед вставкой.
	ErrInvalidOrder = errors.New("invalid order")
)

// Коды ошибок PostgreSQL.
const (
	pgUndefinedTable = "42P01"
)

// BulkInsertError — часть записей пакета не вставлена.
//
// Это не фатальная ошибка: Inserted записей сохранены,
// Failed отклонены построчно. First — первая построчная ошибка.
type BulkInsertError struct {
	Inserted int
	Failed   int
	First    error
}

func (e *BulkInsertError) Error() string {
	return fmt.Sprintf("bulk insert: %d inserted, %d failed: %v", e.Inserted, e.Failed, e.First)
}

func (e *BulkInsertError) Unwrap() error {
	return e.First
}

// isUndefinedTable проверяет, что таблица не существует.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// isRowError проверяет, относится ли ошибка к конкретной строке
// (нарушение ограничений или некорректные данные), а не к соединению.
func isRowError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23": // data_exception, integrity_constraint_violation
		return true
	default:
		return false
	}
}
