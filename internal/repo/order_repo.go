package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/orderflow/internal/domain"
)

// OrderRepo — репозиторий заказов в PostgreSQL.
type OrderRepo struct {
	pool *pgxpool.Pool
}

// NewOrderRepo создаёт новый OrderRepo.
func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

// OrderStat — количество заказов для пары (priority, status).
type OrderStat struct {
	Priority domain.Priority    `json:"priority"`
	Status   domain.OrderStatus `json:"status"`
	Count    int64              `json:"count"`
}

var orderColumns = []string{"customer", "amount", "tier", "priority", "status", "note", "created_at", "updated_at"}

// EnsureSchema создаёт таблицу заказов, если её нет.
// Вызывается при старте и перед каждым запуском (Reset удаляет таблицу).
func (r *OrderRepo) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS orders (
			id         BIGSERIAL PRIMARY KEY,
			customer   TEXT             NOT NULL,
			amount     DOUBLE PRECISION NOT NULL CHECK (amount > 0),
			tier       TEXT             NOT NULL CHECK (tier IN ('BRONZE', 'SILVER', 'GOLD', 'DIAMOND')),
			priority   TEXT             NOT NULL,
			status     TEXT             NOT NULL DEFAULT 'PENDING',
			note       TEXT             NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ      NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS orders_priority_status_idx ON orders (priority, status);
	`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure orders schema: %w", err)
	}
	return nil
}

// InsertOrders вставляет пакет заказов.
//
// Сначала пакет целиком отправляется через COPY. Если COPY отклонён из-за
// данных конкретной строки, пакет вставляется построчно: плохие строки
// пропускаются, остальные сохраняются, и возвращается *BulkInsertError.
// Ошибки соединения фатальны.
func (r *OrderRepo) InsertOrders(ctx context.Context, orders []domain.Order) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"orders"},
		orderColumns,
		pgx.CopyFromSlice(len(orders), func(i int) ([]any, error) {
			return orderRow(&orders[i]), nil
		}),
	)
	if err == nil {
		return int(n), nil
	}
	if !isRowError(err) {
		return 0, fmt.Errorf("copy orders: %w", err)
	}

	return r.insertRowByRow(ctx, orders)
}

// insertRowByRow вставляет заказы по одному, пропуская построчные ошибки.
func (r *OrderRepo) insertRowByRow(ctx context.Context, orders []domain.Order) (int, error) {
	query := `
		INSERT INTO orders (customer, amount, tier, priority, status, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var inserted, failed int
	var first error
	for i := range orders {
		_, err := r.pool.Exec(ctx, query, orderRow(&orders[i])...)
		if err == nil {
			inserted++
			continue
		}
		if !isRowError(err) {
			return inserted, fmt.Errorf("insert order: %w", err)
		}
		failed++
		if first == nil {
			first = err
		}
	}

	if failed > 0 {
		return inserted, &BulkInsertError{Inserted: inserted, Failed: failed, First: first}
	}
	return inserted, nil
}

// ScanPendingIDs проходит курсором по заказам в статусе PENDING с заданным
// приоритетом и вызывает fn для каждого ID. Результат не материализуется.
// Ошибка fn прерывает проход.
func (r *OrderRepo) ScanPendingIDs(ctx context.Context, priority domain.Priority, fn func(id int64) error) error {
	query := `SELECT id FROM orders WHERE priority = $1 AND status = $2`

	rows, err := r.pool.Query(ctx, query, priority, domain.OrderStatusPending)
	if err != nil {
		return fmt.Errorf("scan pending %s: %w", priority, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan id: %w", err)
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return rows.Err()
}

// MarkProcessed одним запросом переводит заказы из набора ids в PROCESSED
// и записывает note. Возвращает количество изменённых строк.
func (r *OrderRepo) MarkProcessed(ctx context.Context, ids []int64, note string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE orders
		SET status = $2, note = $3, updated_at = $4
		WHERE id = ANY($1)
	`
	result, err := r.pool.Exec(ctx, query, ids, domain.OrderStatusProcessed, note, time.Now())
	if err != nil {
		return 0, fmt.Errorf("mark processed: %w", err)
	}
	return result.RowsAffected(), nil
}

// Drop удаляет таблицу заказов. Отсутствие таблицы не считается ошибкой.
func (r *OrderRepo) Drop(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DROP TABLE orders`); err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return fmt.Errorf("drop orders: %w", err)
	}
	return nil
}

// Stats возвращает количество заказов по приоритету и статусу.
func (r *OrderRepo) Stats(ctx context.Context) ([]OrderStat, error) {
	query := `
		SELECT priority, status, count(*)
		FROM orders
		GROUP BY priority, status
		ORDER BY priority, status
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		if isUndefinedTable(err) {
			return []OrderStat{}, nil
		}
		return nil, fmt.Errorf("order stats: %w", err)
	}
	defer rows.Close()

	stats := []OrderStat{}
	for rows.Next() {
		var s OrderStat
		if err := rows.Scan(&s.Priority, &s.Status, &s.Count); err != nil {
			return nil, fmt.Errorf("scan stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return []OrderStat{}, nil
		}
		return nil, err
	}
	return stats, nil
}

// GetByID возвращает заказ по ID.
func (r *OrderRepo) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := `
		SELECT id, customer, amount, tier, priority, status, note, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	var o domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.Customer,
		&o.Amount,
		&o.Tier,
		&o.Priority,
		&o.Status,
		&o.Note,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

// orderRow раскладывает заказ в значения колонок orderColumns.
func orderRow(o *domain.Order) []any {
	return []any{
		o.Customer,
		o.Amount,
		string(o.Tier),
		string(o.Priority),
		string(o.Status),
		o.Note,
		o.CreatedAt,
		o.UpdatedAt,
	}
}
