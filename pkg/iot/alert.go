package iot

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// Compare applies a rule operator. Equality is exact floating-point equality;
// values exactly on a greater/less threshold do not trigger.
func Compare(op models.CompareOp, value, threshold float64) bool {
	switch op {
	case models.CompareOpGreater:
		return value > threshold
	case models.CompareOpLess:
		return value < threshold
	case models.CompareOpEqual:
		return value == threshold
	default:
		return false
	}
}

// evaluateRulesTx loads the device's active rules and evaluates them against
// one reading. Stateless per reading: no hysteresis, so a value oscillating
// around a threshold can storm; CooldownSeconds on a rule suppresses repeats
// inside the window when set (zero keeps every qualifying reading firing).
//
// A rule whose parameter is absent from the reading, or whose value does not
// coerce to a number, is skipped silently: one malformed parameter must not
// block the reading or the other rules.
func evaluateRulesTx(tx *gorm.DB, logger *zap.Logger, deviceID string, reading *models.Reading) ([]models.TriggeredAlert, error) {
	var rules []models.AlertRule
	if err := tx.Where("device_id = ?", deviceID).Find(&rules).Error; err != nil {
		return nil, err
	}

	var triggered []models.TriggeredAlert
	for _, rule := range rules {
		raw, present := reading.Data[rule.Parameter]
		if !present {
			continue
		}
		value, ok := models.Numeric(raw)
		if !ok {
			logger.Debug("Skipping rule with non-numeric value",
				zap.Uint("rule_id", rule.ID),
				zap.String("parameter", rule.Parameter))
			continue
		}
		if !Compare(rule.Operator, value, rule.Threshold) {
			continue
		}
		if rule.CooldownSeconds > 0 {
			cooling, err := ruleInCooldownTx(tx, &rule, reading.Timestamp)
			if err != nil {
				return nil, err
			}
			if cooling {
				continue
			}
		}

		t := models.TriggeredAlert{
			Rule:      rule,
			DeviceID:  deviceID,
			Value:     value,
			Message:   fmt.Sprintf("%s: %s %v crossed threshold %v (value %v)", rule.Label, rule.Parameter, rule.Operator, rule.Threshold, value),
			Timestamp: reading.Timestamp,
		}
		logger.Info("Alert triggered", zap.Reflect("alert", t))
		triggered = append(triggered, t)
	}
	return triggered, nil
}

func ruleInCooldownTx(tx *gorm.DB, rule *models.AlertRule, at time.Time) (bool, error) {
	var last models.Notification
	err := tx.
		Where("alert_id = ?", rule.ID).
		Order("timestamp desc").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return at.Sub(last.Timestamp) < time.Duration(rule.CooldownSeconds)*time.Second, nil
}

func (i *IOT) evaluate(deviceID string, reading *models.Reading) ([]models.TriggeredAlert, error) {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTAlert),
	)
	return evaluateRulesTx(i.Db.Conn, logger, deviceID, reading)
}

func (i *IOT) createRule(rule *models.AlertRule) error {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTAlert),
	)

	exists, err := deviceExistsTx(i.Db.Conn, rule.DeviceID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrDeviceNotFound
	}

	if err := i.Db.Conn.Create(rule).Error; err != nil {
		return err
	}

	logger.Info("Created alert rule", zap.Reflect("rule", rule))
	return nil
}

// deleteRule removes a rule and the notifications it owns. Children first to
// satisfy referential integrity.
func (i *IOT) deleteRule(ruleID uint) error {
	logger := common.GetLoggerWith(
		common.LoggerNameIOTCore,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTAlert),
	)

	return i.Db.Conn.Transaction(func(tx *gorm.DB) error {
		var rule models.AlertRule
		if err := tx.First(&rule, ruleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRuleNotFound
			}
			return err
		}

		if err := tx.Where("alert_id = ?", ruleID).Delete(&models.Notification{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&rule).Error; err != nil {
			return err
		}

		logger.Info("Deleted alert rule and its notifications", zap.Uint("rule_id", ruleID))
		return nil
	})
}

func (i *IOT) listRules(deviceID string) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	err := i.Db.Conn.
		Where("device_id = ?", deviceID).
		Order("created_at asc").
		Find(&rules).Error
	return rules, err
}

type IAlertImpl struct {
	iot *IOT
}

func (ia *IAlertImpl) Evaluate(deviceID string, reading *models.Reading) ([]models.TriggeredAlert, error) {
	return ia.iot.evaluate(deviceID, reading)
}

func (ia *IAlertImpl) CreateRule(rule *models.AlertRule) error {
	return ia.iot.createRule(rule)
}

func (ia *IAlertImpl) DeleteRule(ruleID uint) error {
	return ia.iot.deleteRule(ruleID)
}

func (ia *IAlertImpl) ListRules(deviceID string) ([]models.AlertRule, error) {
	return ia.iot.listRules(deviceID)
}

func (i *IOT) GetIAlert() IAlert {
	return &IAlertImpl{iot: i}
}
