package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ratepro/internal/models"
)

// NotificationSink accepts alert events for out-of-band delivery.
type NotificationSink interface {
	Enqueue(ctx context.Context, event *models.AlertEvent) error
}

// RedisAlertQueue appends alerts to a Redis stream consumed by the
// notification workers.
type RedisAlertQueue struct {
	client *redis.Client
	stream string
	logger *logrus.Logger
}

func NewRedisAlertQueue(client *redis.Client, stream string, logger *logrus.Logger) *RedisAlertQueue {
	if logger == nil {
		logger = logrus.New()
	}
	if stream == "" {
		stream = "ratepro:alerts"
	}
	return &RedisAlertQueue{client: client, stream: stream, logger: logger}
}

func (q *RedisAlertQueue) Enqueue(ctx context.Context, event *models.AlertEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"event_id":    event.ID,
			"tenant_id":   event.TenantID,
			"response_id": event.ResponseID,
			"payload":     string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: enqueue alert: %v", ErrPersistenceFailed, err)
	}
	q.logger.WithFields(logrus.Fields{
		"tenant_id":   event.TenantID,
		"response_id": event.ResponseID,
		"stream_id":   id,
	}).Info("alert enqueued")
	return nil
}

// LogSink logs alerts instead of delivering them. Used when Redis is off.
type LogSink struct {
	logger *logrus.Logger
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Enqueue(_ context.Context, event *models.AlertEvent) error {
	s.logger.WithFields(logrus.Fields{
		"tenant_id":   event.TenantID,
		"response_id": event.ResponseID,
		"urgency":     event.Urgency,
		"reasons":     event.Reasons,
	}).Warn("alert raised")
	return nil
}

// AnalysisLock serializes pipeline runs for the same response.
type AnalysisLock interface {
	Acquire(ctx context.Context, responseID string) (release func(), err error)
}

// releaseLock deletes the key only while it still holds the caller's token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisAnalysisLock holds a SETNX key per response for at most ttl. The key
// stores a token unique to each acquisition, so a run that outlived ttl
// cannot release a lock taken after it.
type RedisAnalysisLock struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisAnalysisLock(client *redis.Client, ttl time.Duration) *RedisAnalysisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisAnalysisLock{client: client, ttl: ttl, prefix: "ratepro:analysis:lock:"}
}

func (l *RedisAnalysisLock) Acquire(ctx context.Context, responseID string) (func(), error) {
	key := l.prefix + responseID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("acquire analysis lock: %w", err)
	}
	if !ok {
		return nil, ErrAnalysisInProgress
	}
	return func() {
		_ = releaseLock.Run(context.Background(), l.client, []string{key}, token).Err()
	}, nil
}

// NoopLock never blocks.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
