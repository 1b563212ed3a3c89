package iot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

func (i *IOT) registerDevice(input *models.Device) error {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTDevice),
	)

	if input.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if input.RegisteredAt.IsZero() {
		input.RegisteredAt = time.Now()
	}

	if err := i.Db.Conn.Create(input).Error; err != nil {
		return err
	}

	logger.Info("Registered device", zap.Reflect("device", input))
	return nil
}

func (i *IOT) getDevice(deviceID string) (*models.Device, error) {
	var device models.Device
	err := i.Db.Conn.First(&device, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (i *IOT) deviceExists(deviceID string) (bool, error) {
	return deviceExistsTx(i.Db.Conn, deviceID)
}

func deviceExistsTx(tx *gorm.DB, deviceID string) (bool, error) {
	var count int64
	err := tx.Model(&models.Device{}).Where("device_id = ?", deviceID).Count(&count).Error
	return count > 0, err
}

func (i *IOT) listAllDevices() ([]models.Device, error) {
	var devices []models.Device
	err := i.Db.Conn.Order("registered_at asc").Find(&devices).Error
	return devices, err
}

func (i *IOT) listDevicesByUser(userID uint) ([]models.Device, error) {
	var devices []models.Device
	err := i.Db.Conn.Where("user_id = ?", userID).Order("registered_at asc").Find(&devices).Error
	return devices, err
}

// deleteDevice removes a device and everything it owns. Notifications go
// first, then rules, readings and charts; the rule rows own their
// notifications so children must be gone before parents.
func (i *IOT) deleteDevice(deviceID string) error {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTDevice),
	)

	return i.Db.Conn.Transaction(func(tx *gorm.DB) error {
		exists, err := deviceExistsTx(tx, deviceID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrDeviceNotFound
		}

		if err := tx.Where("device_id = ?", deviceID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", deviceID).Delete(&models.AlertRule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", deviceID).Delete(&models.Reading{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", deviceID).Delete(&models.Chart{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id = ?", deviceID).Delete(&models.Device{}).Error; err != nil {
			return err
		}

		logger.Info("Deleted device and owned rows", zap.String("device_id", deviceID))
		return nil
	})
}

func (i *IOT) deviceCoordinates(deviceID string) (float64, float64, error) {
	device, err := i.getDevice(deviceID)
	if err != nil {
		return 0, 0, err
	}
	return ParseCoordinates(device.Coordinates)
}

// ParseCoordinates splits a "lat,lon" registration string.
func ParseCoordinates(s string) (float64, float64, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid coordinates %q, want \"lat,lon\"", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return lat, lon, nil
}

type IDeviceImpl struct {
	iot *IOT
}

func (id *IDeviceImpl) Register(input *models.Device) error {
	return id.iot.registerDevice(input)
}

func (id *IDeviceImpl) Get(deviceID string) (*models.Device, error) {
	return id.iot.getDevice(deviceID)
}

func (id *IDeviceImpl) Exists(deviceID string) (bool, error) {
	return id.iot.deviceExists(deviceID)
}

func (id *IDeviceImpl) ListAll() ([]models.Device, error) {
	return id.iot.listAllDevices()
}

func (id *IDeviceImpl) ListByUser(userID uint) ([]models.Device, error) {
	return id.iot.listDevicesByUser(userID)
}

func (id *IDeviceImpl) Delete(deviceID string) error {
	return id.iot.deleteDevice(deviceID)
}

func (id *IDeviceImpl) Coordinates(deviceID string) (float64, float64, error) {
	return id.iot.deviceCoordinates(deviceID)
}

func (i *IOT) GetIDevice() IDevice {
	return &IDeviceImpl{iot: i}
}
