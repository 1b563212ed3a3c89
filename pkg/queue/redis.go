package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

const defaultPopTimeout = 5 * time.Second

// RedisDispatcher is a Redis-list-backed dispatcher: LPUSH on enqueue, BRPOP
// on the consumer side. A task whose handler fails is pushed back onto the
// list, which gives at-least-once delivery across process restarts.
type RedisDispatcher struct {
	client    *redis.Client
	queueName string
	logger    *zap.Logger
}

func NewRedisDispatcher(redisURL, queueName string) (*RedisDispatcher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisDispatcher{
		client:    redis.NewClient(opts),
		queueName: queueName,
		logger:    common.GetLoggerWith(common.LoggerNameIngestQueue, zap.String("queue", queueName)),
	}, nil
}

// NewRedisDispatcherWithClient wires an existing client, used by tests.
func NewRedisDispatcherWithClient(client *redis.Client, queueName string) *RedisDispatcher {
	return &RedisDispatcher{
		client:    client,
		queueName: queueName,
		logger:    common.GetLoggerWith(common.LoggerNameIngestQueue, zap.String("queue", queueName)),
	}
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, in *models.ReadingInput) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return d.client.LPush(ctx, d.queueName, body).Err()
}

func (d *RedisDispatcher) Run(ctx context.Context, h Handler) error {
	d.logger.Info("Ingest queue consumer started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Ingest queue consumer stopped")
			return nil
		default:
		}

		vals, err := d.client.BRPop(ctx, defaultPopTimeout, d.queueName).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				d.logger.Info("Ingest queue consumer stopped")
				return nil
			}
			d.logger.Error("Failed to pop ingest task", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(vals) != 2 {
			continue
		}

		var in models.ReadingInput
		if err := json.Unmarshal([]byte(vals[1]), &in); err != nil {
			// a task that cannot be decoded will never succeed; drop it
			d.logger.Error("Dropping undecodable ingest task", zap.Error(err))
			continue
		}

		if err := h(ctx, &in); err != nil {
			d.logger.Error("Ingest task failed, requeueing",
				zap.String("device_id", in.DeviceID),
				zap.Error(err))
			if pushErr := d.client.LPush(ctx, d.queueName, vals[1]).Err(); pushErr != nil {
				d.logger.Error("Failed to requeue ingest task", zap.Error(pushErr))
			}
		}
	}
}
