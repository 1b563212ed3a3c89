package iot

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// appendReadingTx writes one reading row inside the caller's transaction.
// Append-only: rows are never updated, duplicate timestamps are allowed.
func appendReadingTx(tx *gorm.DB, deviceID string, ts time.Time, data models.DataMap, source models.ReadingSource) (*models.Reading, error) {
	exists, err := deviceExistsTx(tx, deviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeviceNotFound
	}

	reading := models.Reading{
		DeviceID:  deviceID,
		Timestamp: ts,
		Data:      data,
		Source:    source,
	}
	if err := tx.Create(&reading).Error; err != nil {
		return nil, err
	}
	return &reading, nil
}

func (i *IOT) appendReading(deviceID string, ts time.Time, data models.DataMap, source models.ReadingSource) (uint, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTReading),
	)

	reading, err := appendReadingTx(i.Db.Conn, deviceID, ts, data, source)
	if err != nil {
		return 0, err
	}

	logger.Info("Appended reading", zap.Reflect("reading", reading))
	return reading.ID, nil
}

func (i *IOT) latestReading(deviceID string) (*models.Reading, error) {
	var reading models.Reading
	err := i.Db.Conn.
		Where("device_id = ?", deviceID).
		Order("timestamp desc").
		First(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

func (i *IOT) rangeReadings(deviceID string, from, to time.Time, ascending bool) ([]models.Reading, error) {
	order := "timestamp desc"
	if ascending {
		order = "timestamp asc"
	}
	var readings []models.Reading
	err := i.Db.Conn.
		Where("device_id = ? AND timestamp >= ? AND timestamp <= ?", deviceID, from, to).
		Order(order).
		Find(&readings).Error
	return readings, err
}

func (i *IOT) recentReadings(deviceID string, limit int) ([]models.Reading, error) {
	var readings []models.Reading
	err := i.Db.Conn.
		Where("device_id = ?", deviceID).
		Order("timestamp desc").
		Limit(limit).
		Find(&readings).Error
	return readings, err
}

type IReadingImpl struct {
	iot *IOT
}

func (ir *IReadingImpl) Append(deviceID string, ts time.Time, data models.DataMap, source models.ReadingSource) (uint, error) {
	return ir.iot.appendReading(deviceID, ts, data, source)
}

func (ir *IReadingImpl) Latest(deviceID string) (*models.Reading, error) {
	return ir.iot.latestReading(deviceID)
}

func (ir *IReadingImpl) Range(deviceID string, from, to time.Time, ascending bool) ([]models.Reading, error) {
	return ir.iot.rangeReadings(deviceID, from, to, ascending)
}

func (ir *IReadingImpl) Recent(deviceID string, limit int) ([]models.Reading, error) {
	return ir.iot.recentReadings(deviceID, limit)
}

func (i *IOT) GetIReading() IReading {
	return &IReadingImpl{iot: i}
}
