// orderflow — генерация заказов и их обработка по приоритетным линиям.
//
// Процесс:
//   - Поднимает HTTP API (/start-process, /pedidos, /reset)
//   - Держит две очереди в Redis (HIGH и NORMAL) и пул воркеров на каждую
//   - Координирует запуск: генерация → постановка в очереди → обработка
//   - Публикует события в RabbitMQ, если он доступен
//   - Запускает конвейер по расписанию, если задан RUN_SCHEDULE
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaiso/orderflow/internal/api"
	"github.com/shaiso/orderflow/internal/config"
	"github.com/shaiso/orderflow/internal/domain"
	"github.com/shaiso/orderflow/internal/generator"
	"github.com/shaiso/orderflow/internal/mq"
	"github.com/shaiso/orderflow/internal/orchestrator"
	"github.com/shaiso/orderflow/internal/queue"
	"github.com/shaiso/orderflow/internal/repo"
	"github.com/shaiso/orderflow/internal/scheduler"
	"github.com/shaiso/orderflow/internal/telemetry"
	"github.com/shaiso/orderflow/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting orderflow")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	policy, err := orchestrator.ParseLanePolicy(cfg.LanePolicy)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	orders := repo.NewOrderRepo(pool)
	if err := orders.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Redis
	rc, err := queue.NewRedisClient(ctx, cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	defer rc.Close()
	logger.Info("redis connected", "addr", cfg.RedisAddr())

	queues := make(map[domain.Lane]queue.Queue, len(domain.Lanes))
	for _, lane := range domain.Lanes {
		queues[lane] = queue.NewRedisQueue(rc, lane.QueueName(), queue.DefaultPolicy())
	}

	// RabbitMQ (опционально)
	var publisher *mq.Publisher
	if cfg.RabbitMQURL != "" {
		mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events disabled", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
		}
	}

	gen := generator.New(generator.Config{
		Store:  orders,
		Logger: logger,
	})

	coordCfg := orchestrator.Config{
		Store:               orders,
		Generator:           gen,
		Queues:              queues,
		LanePolicy:          policy,
		Total:               cfg.OrdersTotal,
		GenerationBatchSize: cfg.GenerationBatchSize,
		EnqueueBatchSize:    cfg.EnqueueBatchSize,
		Logger:              logger,
	}
	if publisher != nil {
		coordCfg.Publisher = publisher
	}

	coord, err := orchestrator.New(coordCfg)
	if err != nil {
		logger.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	// Пулы воркеров
	pools := make([]*worker.Pool, 0, len(domain.Lanes))
	for _, lane := range domain.Lanes {
		poolCfg := worker.Config{
			Lane:        lane,
			Queue:       queues[lane],
			Store:       orders,
			Observer:    coord,
			Concurrency: cfg.WorkerConcurrency,
			Logger:      logger,
		}
		if publisher != nil {
			poolCfg.Publisher = publisher
		}

		p := worker.New(poolCfg)
		coord.AttachPool(lane, p)
		if err := p.Start(ctx); err != nil {
			logger.Error("failed to start worker pool", "lane", lane, "error", err)
			os.Exit(1)
		}
		pools = append(pools, p)
	}

	// Расписание (опционально). Run снимает advisory lock при остановке:
	// pool.Close ждёт возврата удерживаемого блокировкой соединения.
	var schedDone chan struct{}
	if cfg.RunSchedule != "" {
		sched, err := scheduler.New(scheduler.Config{
			Expr:     cfg.RunSchedule,
			Timezone: cfg.ScheduleTZ,
			Trigger:  coord,
			Leader:   repo.NewAdvisoryLock(pool, repo.SchedulerLockKey),
			Logger:   logger,
		}, time.Now())
		if err != nil {
			logger.Error("invalid RUN_SCHEDULE", "error", err)
			os.Exit(1)
		}
		schedDone = make(chan struct{})
		go func() {
			defer close(schedDone)
			sched.Run(ctx)
		}()
	}

	// HTTP API
	handler := api.NewHandler(api.Config{
		Coordinator: coord,
		Stats:       orders,
		Queues:      queues,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.APIAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	if schedDone != nil {
		<-schedDone
	}

	// Запуск прерывается до остановки пулов: координатор ждёт опустошения линий.
	coord.Shutdown()
	for _, p := range pools {
		p.Stop()
	}

	logger.Info("orderflow stopped")
}
