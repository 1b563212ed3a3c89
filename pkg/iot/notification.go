package iot

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// recordNotificationTx writes one notification row for a triggered rule
// inside the caller's transaction. Every trigger creates a new row; there is
// no dedup across repeated triggers of the same rule.
func recordNotificationTx(tx *gorm.DB, t *models.TriggeredAlert) (*models.Notification, error) {
	notification := models.Notification{
		AlertID:   t.Rule.ID,
		DeviceID:  t.DeviceID,
		Label:     t.Rule.Label,
		Message:   t.Message,
		Timestamp: t.Timestamp,
		Seen:      false,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}

func (i *IOT) recordNotification(t *models.TriggeredAlert) (uint, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTNotification),
	)

	notification, err := recordNotificationTx(i.Db.Conn, t)
	if err != nil {
		return 0, err
	}

	logger.Info("Recorded notification", zap.Reflect("notification", notification))
	return notification.ID, nil
}

func (i *IOT) listNotifications(deviceID string) ([]models.Notification, error) {
	var notifications []models.Notification
	err := i.Db.Conn.
		Where("device_id = ?", deviceID).
		Order("timestamp desc").
		Find(&notifications).Error
	return notifications, err
}

// markSeen flips every unseen notification for the device. The dashboard
// consumes this as one "mark all read" action, not per-notification.
func (i *IOT) markSeen(deviceID string) error {
	return i.Db.Conn.
		Model(&models.Notification{}).
		Where("device_id = ? AND seen = ?", deviceID, false).
		Update("seen", true).Error
}

func (i *IOT) unseenCount(deviceID string) (int64, error) {
	var count int64
	err := i.Db.Conn.
		Model(&models.Notification{}).
		Where("device_id = ? AND seen = ?", deviceID, false).
		Count(&count).Error
	return count, err
}

type INotificationImpl struct {
	iot *IOT
}

func (in *INotificationImpl) Record(t *models.TriggeredAlert) (uint, error) {
	return in.iot.recordNotification(t)
}

func (in *INotificationImpl) List(deviceID string) ([]models.Notification, error) {
	return in.iot.listNotifications(deviceID)
}

func (in *INotificationImpl) MarkSeen(deviceID string) error {
	return in.iot.markSeen(deviceID)
}

func (in *INotificationImpl) UnseenCount(deviceID string) (int64, error) {
	return in.iot.unseenCount(deviceID)
}

func (i *IOT) GetINotification() INotification {
	return &INotificationImpl{iot: i}
}
