package automation

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"reputly/config"
)

// MetricsSink records engine counters. Injected so the trigger evaluator and
// dispatcher stay testable without a metrics backend.
type MetricsSink interface {
	RecordTrigger(triggerType string, sequenceID uint, success bool)
	RecordDispatch(channel string, success bool)
}

// RedisMetrics keeps counters in Redis.
type RedisMetrics struct {
	client *redis.Client
}

func NewRedisMetrics(cfg config.RedisConfig) *RedisMetrics {
	return &RedisMetrics{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (rm *RedisMetrics) RecordTrigger(triggerType string, sequenceID uint, success bool) {
	ctx := context.Background()
	outcome := "succeeded"
	if !success {
		outcome = "failed"
	}
	rm.client.Incr(ctx, fmt.Sprintf("metrics:trigger:%s:fired", triggerType))
	rm.client.Incr(ctx, fmt.Sprintf("metrics:trigger:%s:%s", triggerType, outcome))
	rm.client.Incr(ctx, fmt.Sprintf("metrics:sequence:%d:triggered", sequenceID))
}

func (rm *RedisMetrics) RecordDispatch(channel string, success bool) {
	ctx := context.Background()
	outcome := "sent"
	if !success {
		outcome = "failed"
	}
	rm.client.Incr(ctx, fmt.Sprintf("metrics:dispatch:%s:%s", channel, outcome))
}

// NoopMetrics discards all counters. Used when Redis is disabled and in tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordTrigger(string, uint, bool) {}
func (NoopMetrics) RecordDispatch(string, bool)      {}
