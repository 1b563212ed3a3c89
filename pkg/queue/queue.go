// Package queue carries decoded readings from the accept path to the
// persistence-and-alerting path. Delivery is at least once: a handler failure
// puts the task back, so the ingest unit of work must tolerate redelivery.
package queue

import (
	"context"

	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// Handler processes one dequeued reading. Returning an error requeues the
// task for redelivery, so handlers must only return errors for retryable
// failures; permanent rejections (unknown device) are logged and swallowed by
// the handler itself.
type Handler func(ctx context.Context, in *models.ReadingInput) error

type Dispatcher interface {
	// Enqueue hands a decoded reading to the asynchronous path.
	Enqueue(ctx context.Context, in *models.ReadingInput) error
	// Run drains the queue with h until ctx is cancelled.
	Run(ctx context.Context, h Handler) error
}
