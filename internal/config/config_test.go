package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/shaiso/orderflow/internal/repo"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"DB_URL": "postgres://localhost/orders",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr())
	}
	if cfg.APIAddr() != ":8080" {
		t.Errorf("APIAddr = %q", cfg.APIAddr())
	}
	if cfg.OrdersTotal != DefaultOrdersTotal {
		t.Errorf("OrdersTotal = %d", cfg.OrdersTotal)
	}
	if cfg.GenerationBatchSize != DefaultGenerationBatchSize {
		t.Errorf("GenerationBatchSize = %d", cfg.GenerationBatchSize)
	}
	if cfg.EnqueueBatchSize != DefaultEnqueueBatchSize {
		t.Errorf("EnqueueBatchSize = %d", cfg.EnqueueBatchSize)
	}
	if cfg.WorkerConcurrency != DefaultWorkerConcurrency {
		t.Errorf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
	if cfg.LanePolicy != DefaultLanePolicy {
		t.Errorf("LanePolicy = %q", cfg.LanePolicy)
	}
	if cfg.RabbitMQURL != "" || cfg.RunSchedule != "" {
		t.Errorf("optional values should be empty: %+v", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"DB_URL":                "postgres://db/orders",
		"REDIS_HOST":            "redis",
		"REDIS_PORT":            "6380",
		"REDIS_DB":              "2",
		"RABBITMQ_URL":          "amqp://guest:guest@mq:5672/",
		"API_PORT":              "9000",
		"ORDERS_TOTAL":          "50_000",
		"GENERATION_BATCH_SIZE": "1000",
		"ENQUEUE_BATCH_SIZE":    "100",
		"WORKER_CONCURRENCY":    "4",
		"LANE_POLICY":           "Sequential",
		"RUN_SCHEDULE":          "0 3 * * *",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.RedisAddr() != "redis:6380" || cfg.RedisDB != 2 {
		t.Errorf("redis = %s db=%d", cfg.RedisAddr(), cfg.RedisDB)
	}
	if cfg.APIAddr() != ":9000" {
		t.Errorf("APIAddr = %q", cfg.APIAddr())
	}
	if cfg.OrdersTotal != 50_000 {
		t.Errorf("OrdersTotal = %d", cfg.OrdersTotal)
	}
	if cfg.EnqueueBatchSize != 100 || cfg.GenerationBatchSize != 1000 || cfg.WorkerConcurrency != 4 {
		t.Errorf("sizes = %+v", cfg)
	}
	if cfg.LanePolicy != "sequential" {
		t.Errorf("LanePolicy = %q", cfg.LanePolicy)
	}
	if cfg.RunSchedule != "0 3 * * *" {
		t.Errorf("RunSchedule = %q", cfg.RunSchedule)
	}
}

func TestFromEnv_MissingDSN(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{}))
	if !errors.Is(err, repo.ErrMissingDSN) {
		t.Fatalf("err = %v, want ErrMissingDSN", err)
	}
}

func TestFromEnv_BlankDSN(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{"DB_URL": "   "}))
	if !errors.Is(err, repo.ErrMissingDSN) {
		t.Fatalf("err = %v, want ErrMissingDSN", err)
	}
}

func TestFromEnv_InvalidNumbers(t *testing.T) {
	_, err := FromEnv(lookupFrom(map[string]string{
		"DB_URL":             "postgres://db/orders",
		"ORDERS_TOTAL":       "lots",
		"WORKER_CONCURRENCY": "0",
		"REDIS_PORT":         "six",
	}))
	if !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("err = %v, want ErrInvalidValue", err)
	}

	// все ошибки собираются, а не только первая
	for _, key := range []string{"ORDERS_TOTAL", "WORKER_CONCURRENCY", "REDIS_PORT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
