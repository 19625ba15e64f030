// Package generator заполняет хранилище синтетическими заказами.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/repo"
	"github.com/shaiso/orderflow/internal/telemetry"
)

// Default configuration values.
const (
	DefaultTotal       = 1_000_000
	DefaultBatchSize   = 10_000
	defaultParallelism = 4

	minAmount = 10.0
	maxAmount = 5000.0
)

// Inserter — вставка пакета заказов.
// Частичная неудача возвращается как *repo.BulkInsertError.
type Inserter interface {
	InsertOrders(ctx context.Context, orders []domain.Order) (int, error)
}

// Result — итог генерации.
type Result struct {
	Requested int                 `json:"requested"`
	Inserted  int                 `json:"inserted"`
	Failed    int                 `json:"failed"`
	ByTier    map[domain.Tier]int `json:"by_tier"`
	Duration  time.Duration       `json:"duration"`
}

// Generator создаёт заказы и сохраняет их пакетами.
type Generator struct {
	store       Inserter
	parallelism int
	logger      *slog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
	now   func() time.Time
}

// Config — конфигурация Generator.
type Config struct {
	Store Inserter

	// Parallelism — одновременных вставок пакетов (default: 4).
	Parallelism int

	// Seed — зерно генератора случайных чисел; 0 — случайное.
	Seed uint64

	Logger *slog.Logger
}

// New создаёт Generator.
func New(cfg Config) *Generator {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Generator{
		store:       cfg.Store,
		parallelism: parallelism,
		logger:      logger,
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:         time.Now,
	}
}

// Generate создаёт total заказов и вставляет их пакетами по batchSize.
//
// Построчные отказы вставки (*repo.BulkInsertError) не прерывают генерацию:
// Inserted учитывает только сохранённые записи. Любая другая ошибка фатальна.
func (g *Generator) Generate(ctx context.Context, total, batchSize int) (Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if total < 0 {
		total = 0
	}

	start := time.Now()
	result := Result{
		Requested: total,
		ByTier:    make(map[domain.Tier]int, len(domain.Tiers)),
	}

	g.logger.Info("generation started", "total", total, "batch_size", batchSize)

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelism)

	for offset := 0; offset < total; offset += batchSize {
		if egCtx.Err() != nil {
			break
		}

		batch := g.Batch(min(batchSize, total-offset))
		for i := range batch {
			result.ByTier[batch[i].Tier]++
		}

		eg.Go(func() error {
			inserted, err := g.store.InsertOrders(egCtx, batch)

			var bulkErr *repo.BulkInsertError
			switch {
			case err == nil:
			case errors.As(err, &bulkErr):
				g.logger.Warn("partial batch insert",
					"inserted", bulkErr.Inserted,
					"failed", bulkErr.Failed,
					"error", bulkErr.First,
				)
			default:
				return fmt.Errorf("insert batch at offset %d: %w", offset, err)
			}

			mu.Lock()
			result.Inserted += inserted
			result.Failed += len(batch) - inserted
			done := result.Inserted + result.Failed
			mu.Unlock()

			telemetry.OrdersGenerated.Add(float64(inserted))
			g.logger.Debug("batch saved", "done", done, "total", total)
			return nil
		})
	}

	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	g.logger.Info("generation completed",
		"inserted", result.Inserted,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// Batch создаёт n заказов в статусе PENDING.
func (g *Generator) Batch(n int) []domain.Order {
	g.rndMu.Lock()
	defer g.rndMu.Unlock()

	now := g.now()
	orders := make([]domain.Order, n)
	for i := range orders {
		tier := domain.Tiers[g.rnd.IntN(len(domain.Tiers))]
		orders[i] = domain.NewOrder(g.customerName(), g.amount(), tier, now)
	}
	return orders
}

// amount — сумма в [minAmount, maxAmount], округлённая до центов.
func (g *Generator) amount() float64 {
	v := minAmount + g.rnd.Float64()*(maxAmount-minAmount)
	return math.Round(v*100) / 100
}

func (g *Generator) customerName() string {
	first := firstNames[g.rnd.IntN(len(firstNames))]
	last := lastNames[g.rnd.IntN(len(lastNames))]
	return first + " " + last
}
