package models

import "time"

type CompareOp string

const (
	CompareOpGreater CompareOp = "greater"
	CompareOpLess    CompareOp = "less"
	CompareOpEqual   CompareOp = "equal"
)

type ReadingSource string

const (
	ReadingSourceDevice      ReadingSource = "device"
	ReadingSourceSynthesized ReadingSource = "synthesized"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string
	CreatedAt    time.Time

	Devices []Device `gorm:"foreignKey:UserID"`
}

type Device struct {
	ID           uint   `gorm:"primaryKey"`
	DeviceID     string `gorm:"uniqueIndex"`
	Name         string
	Type         string
	Description  string
	Coordinates  string // "lat,lon", empty when unregistered
	RegisteredAt time.Time
	UserID       uint `gorm:"index"`

	Readings      []Reading      `gorm:"foreignKey:DeviceID;references:DeviceID"`
	Rules         []AlertRule    `gorm:"foreignKey:DeviceID;references:DeviceID"`
	Notifications []Notification `gorm:"foreignKey:DeviceID;references:DeviceID"`
	Charts        []Chart        `gorm:"foreignKey:DeviceID;references:DeviceID"`
}

// Reading is one row of the append-only telemetry log. Rows are never updated;
// duplicate timestamps are allowed and ordering is by stored timestamp, not
// insertion order.
type Reading struct {
	ID        uint          `gorm:"primaryKey"`
	DeviceID  string        `gorm:"index"`
	Timestamp time.Time     `gorm:"index"`
	Data      DataMap       `gorm:"type:json"`
	Source    ReadingSource `gorm:"type:varchar(20);default:'device'"`
}

// AlertRule is a per-device threshold rule evaluated against every new reading
// for that device. CooldownSeconds of zero means every qualifying reading
// produces a notification.
type AlertRule struct {
	ID              uint   `gorm:"primaryKey"`
	DeviceID        string `gorm:"index"`
	Parameter       string
	Operator        CompareOp `gorm:"type:varchar(10);check:operator IN ('greater','less','equal')"`
	Threshold       float64
	Label           string
	CooldownSeconds int
	CreatedAt       time.Time

	Notifications []Notification `gorm:"foreignKey:AlertID"`
}

type Notification struct {
	ID        uint   `gorm:"primaryKey"`
	AlertID   uint   `gorm:"index"`
	DeviceID  string `gorm:"index"`
	Label     string
	Message   string
	Timestamp time.Time
	Seen      bool `gorm:"default:false"`
}

type Chart struct {
	ID          uint   `gorm:"primaryKey"`
	DeviceID    string `gorm:"index"`
	Name        string
	Type        string
	XAxisParams ParamList `gorm:"type:json"`
	YAxisParams ParamList `gorm:"type:json"`
	IsLive      bool      `gorm:"default:false"`
	Position    int
}

// ReadingInput is the canonical decoded form of an inbound payload, the unit
// the ingestion coordinator works on. A zero Timestamp means the producer sent
// none and the coordinator assigns current time.
type ReadingInput struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	Data      DataMap       `json:"data"`
	Source    ReadingSource `json:"source"`
}

// TriggeredAlert is one rule that tripped for one reading.
type TriggeredAlert struct {
	Rule      AlertRule
	DeviceID  string
	Value     float64
	Message   string
	Timestamp time.Time
}
