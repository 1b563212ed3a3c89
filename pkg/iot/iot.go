package iot

import (
	"errors"
	"time"

	"farmiot.dev/iot-dashboard-service/pkg/db"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrRuleNotFound   = errors.New("alert rule not found")
)

type IDevice interface {
	Register(input *models.Device) error
	Get(deviceID string) (*models.Device, error)
	Exists(deviceID string) (bool, error)
	ListAll() ([]models.Device, error)
	ListByUser(userID uint) ([]models.Device, error)
	Delete(deviceID string) error
	Coordinates(deviceID string) (lat float64, lon float64, err error)
}

type IReading interface {
	Append(deviceID string, ts time.Time, data models.DataMap, source models.ReadingSource) (uint, error)
	Latest(deviceID string) (*models.Reading, error)
	Range(deviceID string, from, to time.Time, ascending bool) ([]models.Reading, error)
	Recent(deviceID string, limit int) ([]models.Reading, error)
}

type IAlert interface {
	Evaluate(deviceID string, reading *models.Reading) ([]models.TriggeredAlert, error)
	CreateRule(rule *models.AlertRule) error
	DeleteRule(ruleID uint) error
	ListRules(deviceID string) ([]models.AlertRule, error)
}

type INotification interface {
	Record(t *models.TriggeredAlert) (uint, error)
	List(deviceID string) ([]models.Notification, error)
	MarkSeen(deviceID string) error
	UnseenCount(deviceID string) (int64, error)
}

type IIngest interface {
	Ingest(in *models.ReadingInput) (*IngestResult, error)
}

type IOT struct {
	Db           db.DB
	Device       IDevice
	Reading      IReading
	Alert        IAlert
	Notification INotification
	Ingest       IIngest
}

type ServiceOpts struct {
	Device       IDevice
	Reading      IReading
	Alert        IAlert
	Notification INotification
	Ingest       IIngest
}

func (i *IOT) WithServices(opts ServiceOpts) *IOT {
	if opts.Device != nil {
		i.Device = opts.Device
	}
	if opts.Reading != nil {
		i.Reading = opts.Reading
	}
	if opts.Alert != nil {
		i.Alert = opts.Alert
	}
	if opts.Notification != nil {
		i.Notification = opts.Notification
	}
	if opts.Ingest != nil {
		i.Ingest = opts.Ingest
	}
	return i
}

// WithAllServices wires every concern to its database-backed implementation.
func (i *IOT) WithAllServices() *IOT {
	return i.WithServices(ServiceOpts{
		Device:       i.GetIDevice(),
		Reading:      i.GetIReading(),
		Alert:        i.GetIAlert(),
		Notification: i.GetINotification(),
		Ingest:       i.GetIIngest(),
	})
}
