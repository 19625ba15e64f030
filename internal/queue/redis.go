package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shaiso/orderflow/internal/domain"
)

const (
	// promoteBatch — сколько отложенных элементов переносится за один вызов Dequeue.
	promoteBatch = 100

	// reclaimBatch — сколько просроченных аренд забирается за один Reclaim.
	reclaimBatch = 100

	// dequeuePoll — интервал повторной попытки Dequeue при пустой очереди.
	dequeuePoll = 50 * time.Millisecond
)

// takeScript переносит due-элементы из delayed в waiting, затем перемещает
// первый ID из waiting в active и выдаёт аренду. ID без данных (Clear между
// RPUSH и выдачей) выбрасываются.
//
// KEYS: waiting, active, delayed, items, leases
// ARGV: now (unix ms), конец аренды (unix ms), promoteBatch
var takeScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('RPUSH', KEYS[1], id)
end
while true do
	local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'LEFT', 'RIGHT')
	if not id then
		return false
	end
	local data = redis.call('HGET', KEYS[4], id)
	if data then
		redis.call('ZADD', KEYS[5], ARGV[2], id)
		return data
	end
	redis.call('LREM', KEYS[2], 1, id)
end
`)

// ackScript снимает элемент с active и удаляет его данные. 0 — элемента нет в active.
//
// KEYS: active, leases, items
// ARGV: id
var ackScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

// nackScript снимает элемент с active, сохраняет журнал попыток и переносит
// ID в delayed (retry = "1") или failed. 0 — элемента нет в active.
//
// KEYS: active, leases, items, delayed, failed
// ARGV: id, JSON элемента, retry, score (unix ms)
var nackScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
if ARGV[3] == '1' then
	redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
else
	redis.call('RPUSH', KEYS[5], ARGV[1])
end
return 1
`)

// releaseScript возвращает элемент из active в начало waiting. 0 — элемента нет в active.
//
// KEYS: active, leases, waiting
// ARGV: id
var releaseScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

// RedisQueue — durable очередь в Redis.
//
// Ключи (name — имя очереди, например "high-priority-orders"):
//
//	<name>:waiting  LIST  ID элементов, ожидающих выдачи (FIFO)
//	<name>:active   LIST  ID выданных воркеру элементов
//	<name>:leases   ZSET  ID активных элементов, score = конец аренды (unix ms)
//	<name>:delayed  ZSET  ID отложенных элементов, score = NextEligibleAt (unix ms)
//	<name>:failed   LIST  ID окончательно упавших элементов
//	<name>:items    HASH  ID → JSON элемента (пакет и журнал попыток)
//
// Переходы между состояниями выполняются Lua-скриптами: элемент всегда
// находится ровно в одном из waiting, active, delayed, failed.
type RedisQueue struct {
	rc     *redis.Client
	name   string
	policy Policy
	now    func() time.Time
}

// NewRedisQueue создаёт очередь поверх клиента Redis.
func NewRedisQueue(rc *redis.Client, name string, policy Policy) *RedisQueue {
	return &RedisQueue{
		rc:     rc,
		name:   name,
		policy: policy.normalize(),
		now:    time.Now,
	}
}

// NewRedisClient создаёт клиент Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}

// Name возвращает имя очереди.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) waitingKey() string { return q.name + ":waiting" }
func (q *RedisQueue) activeKey() string  { return q.name + ":active" }
func (q *RedisQueue) leasesKey() string  { return q.name + ":leases" }
func (q *RedisQueue) delayedKey() string { return q.name + ":delayed" }
func (q *RedisQueue) failedKey() string  { return q.name + ":failed" }
func (q *RedisQueue) itemsKey() string   { return q.name + ":items" }

// Enqueue сохраняет элемент и ставит его ID в конец waiting одной транзакцией.
func (q *RedisQueue) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	id := item.ID.String()
	_, err = q.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.itemsKey(), id, data)
		pipe.RPush(ctx, q.waitingKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", q.name, err)
	}
	return nil
}

// Dequeue выдаёт следующий элемент (takeScript). Пока очередь пуста,
// повторяет попытку каждые dequeuePoll, но не дольше wait.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*domain.QueueItem, error) {
	deadline := time.Now().Add(wait)

	for {
		item, err := q.take(ctx)
		if !errors.Is(err, ErrEmpty) {
			return item, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrEmpty
		}

		timer := time.NewTimer(min(remaining, dequeuePoll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// take выполняет takeScript один раз.
func (q *RedisQueue) take(ctx context.Context) (*domain.QueueItem, error) {
	now := q.now()
	keys := []string{q.waitingKey(), q.activeKey(), q.delayedKey(), q.itemsKey(), q.leasesKey()}

	data, err := takeScript.Run(ctx, q.rc, keys,
		now.UnixMilli(),
		now.Add(q.policy.LeaseTimeout).UnixMilli(),
		promoteBatch,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
	}

	var item domain.QueueItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &item, nil
}

// Ack удаляет элемент из active и его данные.
func (q *RedisQueue) Ack(ctx context.Context, item *domain.QueueItem) error {
	id := item.ID.String()

	n, err := ackScript.Run(ctx, q.rc, []string{q.activeKey(), q.leasesKey(), q.itemsKey()}, id).Int()
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Nack обновляет журнал попыток и переносит элемент в delayed или failed.
func (q *RedisQueue) Nack(ctx context.Context, item *domain.QueueItem, cause error) (Outcome, error) {
	id := item.ID.String()

	stored, err := q.load(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := q.fail(ctx, stored, cause)
	if err != nil {
		return Outcome{}, fmt.Errorf("nack %s: %w", id, err)
	}
	return outcome, nil
}

// Release возвращает элемент из active в начало waiting.
func (q *RedisQueue) Release(ctx context.Context, item *domain.QueueItem) error {
	id := item.ID.String()

	n, err := releaseScript.Run(ctx, q.rc, []string{q.activeKey(), q.leasesKey(), q.waitingKey()}, id).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Reclaim забирает из active элементы с истёкшей арендой (не больше reclaimBatch).
// Элемент, который обработчик успел подтвердить, пропускается.
func (q *RedisQueue) Reclaim(ctx context.Context) ([]Reclaimed, error) {
	expired, err := q.rc.ZRangeByScore(ctx, q.leasesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: reclaimBatch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired leases %s: %w", q.name, err)
	}

	var out []Reclaimed
	for _, id := range expired {
		stored, err := q.load(ctx, id)
		if errors.Is(err, ErrItemNotFound) {
			// Данных нет: снимаем аренду и ID из active
			if err := ackScript.Run(ctx, q.rc, []string{q.activeKey(), q.leasesKey(), q.itemsKey()}, id).Err(); err != nil {
				return out, fmt.Errorf("drop orphan %s: %w", id, err)
			}
			continue
		}
		if err != nil {
			return out, err
		}

		outcome, err := q.fail(ctx, stored, ErrLeaseExpired)
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("reclaim %s: %w", id, err)
		}
		out = append(out, Reclaimed{Item: stored, Outcome: outcome})
	}
	return out, nil
}

// fail учитывает неудачную попытку и атомарно переносит элемент из active
// в delayed или failed (nackScript).
func (q *RedisQueue) fail(ctx context.Context, stored *domain.QueueItem, cause error) (Outcome, error) {
	outcome := recordNack(stored, cause, q.policy, q.now())

	data, err := json.Marshal(stored)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal item: %w", err)
	}

	retry, score := "0", int64(0)
	if outcome.Retrying {
		retry, score = "1", stored.NextEligibleAt.UnixMilli()
	}

	keys := []string{q.activeKey(), q.leasesKey(), q.itemsKey(), q.delayedKey(), q.failedKey()}
	n, err := nackScript.Run(ctx, q.rc, keys, stored.ID.String(), data, retry, score).Int()
	if err != nil {
		return Outcome{}, err
	}
	if n == 0 {
		return Outcome{}, ErrItemNotFound
	}
	return outcome, nil
}

// Counts возвращает количество элементов по состояниям одним pipeline.
func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	var waiting, active, delayed, failed *redis.IntCmd

	_, err := q.rc.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.LLen(ctx, q.waitingKey())
		active = pipe.LLen(ctx, q.activeKey())
		delayed = pipe.ZCard(ctx, q.delayedKey())
		failed = pipe.LLen(ctx, q.failedKey())
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("counts %s: %w", q.name, err)
	}

	return Counts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Failed:  failed.Val(),
	}, nil
}

// Clear удаляет все ключи очереди.
func (q *RedisQueue) Clear(ctx context.Context, force bool) error {
	if !force {
		active, err := q.rc.LLen(ctx, q.activeKey()).Result()
		if err != nil {
			return fmt.Errorf("clear %s: %w", q.name, err)
		}
		if active > 0 {
			return ErrQueueBusy
		}
	}

	err := q.rc.Del(ctx,
		q.waitingKey(),
		q.activeKey(),
		q.leasesKey(),
		q.delayedKey(),
		q.failedKey(),
		q.itemsKey(),
	).Err()
	if err != nil {
		return fmt.Errorf("clear %s: %w", q.name, err)
	}
	return nil
}

// load читает элемент по ID.
func (q *RedisQueue) load(ctx context.Context, id string) (*domain.QueueItem, error) {
	data, err := q.rc.HGet(ctx, q.itemsKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", id, err)
	}

	var item domain.QueueItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item %s: %w", id, err)
	}
	return &item, nil
}
