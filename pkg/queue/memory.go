package queue

import (
	"context"

	"go.uber.org/zap"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// MemoryDispatcher is a channel-backed dispatcher for single-process
// deployments and tests. Same at-least-once contract as the Redis transport:
// failed tasks are put back on the channel.
type MemoryDispatcher struct {
	tasks  chan *models.ReadingInput
	logger *zap.Logger
}

func NewMemoryDispatcher(capacity int) *MemoryDispatcher {
	return &MemoryDispatcher{
		tasks:  make(chan *models.ReadingInput, capacity),
		logger: common.GetLoggerWith(common.LoggerNameIngestQueue, zap.String("queue", "memory")),
	}
}

func (d *MemoryDispatcher) Enqueue(ctx context.Context, in *models.ReadingInput) error {
	select {
	case d.tasks <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) Run(ctx context.Context, h Handler) error {
	d.logger.Info("Ingest queue consumer started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Ingest queue consumer stopped")
			return nil
		case in := <-d.tasks:
			if err := h(ctx, in); err != nil {
				d.logger.Error("Ingest task failed, requeueing",
					zap.String("device_id", in.DeviceID),
					zap.Error(err))
				select {
				case d.tasks <- in:
				default:
					d.logger.Error("Queue full, dropping failed task",
						zap.String("device_id", in.DeviceID))
				}
			}
		}
	}
}
