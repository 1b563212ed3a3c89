package iot

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// IngestResult reports what one ingestion wrote.
type IngestResult struct {
	ReadingID       uint
	NotificationIDs []uint
	Triggered       []models.TriggeredAlert
}

// ingest is the coordinator: device check, reading append, rule evaluation
// and notification writes commit or roll back as one unit. The queue delivers
// at least once and there is no idempotency key, so a redelivered task
// creates a duplicate reading row; that is the current behavior and it is
// pinned by test rather than silently deduplicated.
func (i *IOT) ingest(in *models.ReadingInput) (*IngestResult, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTIngest),
	)

	ts := in.Timestamp
	if ts.IsZero() {
		// the plain webhook form carries no timestamp
		ts = time.Now()
	}
	source := in.Source
	if source == "" {
		source = models.ReadingSourceDevice
	}

	var result IngestResult
	err := i.Db.Conn.Transaction(func(tx *gorm.DB) error {
		reading, err := appendReadingTx(tx, in.DeviceID, ts, in.Data, source)
		if err != nil {
			return err
		}
		result.ReadingID = reading.ID

		triggered, err := evaluateRulesTx(tx, logger, in.DeviceID, reading)
		if err != nil {
			return err
		}
		result.Triggered = triggered

		for idx := range triggered {
			notification, err := recordNotificationTx(tx, &triggered[idx])
			if err != nil {
				return err
			}
			result.NotificationIDs = append(result.NotificationIDs, notification.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Ingested reading",
		zap.String("device_id", in.DeviceID),
		zap.Uint("reading_id", result.ReadingID),
		zap.Int("notifications", len(result.NotificationIDs)))
	return &result, nil
}

type IIngestImpl struct {
	iot *IOT
}

func (ii *IIngestImpl) Ingest(in *models.ReadingInput) (*IngestResult, error) {
	return ii.iot.ingest(in)
}

func (i *IOT) GetIIngest() IIngest {
	return &IIngestImpl{iot: i}
}
