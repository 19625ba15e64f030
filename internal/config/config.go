// Package config загружает настройки процесса из окружения.
//
// Перед чтением переменных подгружается .env (если есть);
// уже заданные переменные окружения имеют приоритет.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/shaiso/orderflow/internal/repo"
)

// Значения по умолчанию.
const (
	DefaultRedisHost           = "localhost"
	DefaultRedisPort           = "6379"
	DefaultAPIPort             = "8080"
	DefaultOrdersTotal         = 1_000_000
	DefaultGenerationBatchSize = 10_000
	DefaultEnqueueBatchSize    = 500
	DefaultWorkerConcurrency   = 10
	DefaultLanePolicy          = "concurrent"
)

// ErrInvalidValue — значение переменной окружения не разбирается.
var ErrInvalidValue = errors.New("invalid config value")

// Config — настройки orderflow.
type Config struct {
	DatabaseURL string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// RabbitMQURL — пусто: публикация событий отключена.
	RabbitMQURL string

	APIPort string

	OrdersTotal         int
	GenerationBatchSize int
	EnqueueBatchSize    int
	WorkerConcurrency   int

	LanePolicy string

	// RunSchedule — cron-выражение; пусто: запуск только через API.
	RunSchedule string
	ScheduleTZ  string
}

// RedisAddr возвращает host:port Redis.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, c.RedisPort)
}

// APIAddr возвращает адрес HTTP-сервера.
func (c Config) APIAddr() string {
	return ":" + c.APIPort
}

// Load читает .env и окружение.
func Load() (Config, error) {
	// .env опционален
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv собирает Config из функции поиска переменных.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	env := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	var errs []error
	positive := func(key string, def int) int {
		raw := env(key, "")
		if raw == "" {
			return def
		}
		n, err := strconv.Atoi(strings.ReplaceAll(raw, "_", ""))
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s=%q (want positive integer)", ErrInvalidValue, key, raw))
			return def
		}
		return n
	}

	cfg := Config{
		DatabaseURL:   env("DB_URL", ""),
		RedisHost:     env("REDIS_HOST", DefaultRedisHost),
		RedisPort:     env("REDIS_PORT", DefaultRedisPort),
		RedisPassword: env("REDIS_PASSWORD", ""),
		RabbitMQURL:   env("RABBITMQ_URL", ""),
		APIPort:       env("API_PORT", DefaultAPIPort),
		LanePolicy:    strings.ToLower(env("LANE_POLICY", DefaultLanePolicy)),
		RunSchedule:   env("RUN_SCHEDULE", ""),
		ScheduleTZ:    env("RUN_SCHEDULE_TZ", ""),

		OrdersTotal:         positive("ORDERS_TOTAL", DefaultOrdersTotal),
		GenerationBatchSize: positive("GENERATION_BATCH_SIZE", DefaultGenerationBatchSize),
		EnqueueBatchSize:    positive("ENQUEUE_BATCH_SIZE", DefaultEnqueueBatchSize),
		WorkerConcurrency:   positive("WORKER_CONCURRENCY", DefaultWorkerConcurrency),
	}

	if raw := env("REDIS_DB", ""); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			errs = append(errs, fmt.Errorf("%w: REDIS_DB=%q", ErrInvalidValue, raw))
		} else {
			cfg.RedisDB = db
		}
	}

	if _, err := strconv.Atoi(cfg.RedisPort); err != nil {
		errs = append(errs, fmt.Errorf("%w: REDIS_PORT=%q", ErrInvalidValue, cfg.RedisPort))
	}
	if _, err := strconv.Atoi(cfg.APIPort); err != nil {
		errs = append(errs, fmt.Errorf("%w: API_PORT=%q", ErrInvalidValue, cfg.APIPort))
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DB_URL: %w", repo.ErrMissingDSN))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
