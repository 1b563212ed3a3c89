package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zhttp"

	"farmiot.dev/iot-dashboard-service/pkg/codec"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

func (rs *RestfulServer) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IngestData is the single device-facing entry point, in two shapes. With a
// `payload` query parameter the blob is decrypted and validated here, then
// handed to the asynchronous dispatcher and acknowledged immediately. Without
// one, every query parameter except device_id is a data field and the
// ingestion runs synchronously end to end. Both shapes funnel through the
// same coordinator so alert behavior cannot diverge.
func (rs *RestfulServer) IngestData(c *gin.Context) {
	if payload := c.Query("payload"); payload != "" {
		in, err := rs.Codec.Decode(payload)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if !rs.CheckDeviceLimiter(in.DeviceID) {
			c.Status(http.StatusTooManyRequests)
			return
		}

		if err := rs.Dispatcher.Enqueue(c.Request.Context(), in); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to accept payload"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		return
	}

	in, err := codec.DecodeQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !rs.CheckDeviceLimiter(in.DeviceID) {
		c.Status(http.StatusTooManyRequests)
		return
	}

	result, err := rs.Iot.Ingest.Ingest(in)
	if err != nil {
		if errors.Is(err, iot.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store reading"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"reading_id":    result.ReadingID,
		"notifications": len(result.NotificationIDs),
	})
}

// IngestHandler adapts the coordinator for the queue consumer. Unknown
// devices are permanent rejections and must not be redelivered forever;
// everything else is treated as retryable.
func (rs *RestfulServer) IngestHandler() func(ctx context.Context, in *models.ReadingInput) error {
	return func(ctx context.Context, in *models.ReadingInput) error {
		_, err := rs.Iot.Ingest.Ingest(in)
		if errors.Is(err, iot.ErrDeviceNotFound) {
			return nil
		}
		return err
	}
}

type UserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

var userRequestSchema = z.Struct(z.Shape{
	"Email":    z.String().Email().Required(),
	"Password": z.String().Min(8).Required(),
})

func (rs *RestfulServer) RegisterUser(c *gin.Context) {
	var req UserRequest
	if err := userRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	var existing models.User
	if err := rs.Iot.Db.Conn.First(&existing, "email = ?", req.Email).Error; err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	user := models.User{Email: req.Email, PasswordHash: hash, CreatedAt: time.Now()}
	if err := rs.Iot.Db.Conn.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	token, err := GenerateToken(user.Email, rs.JwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "user registered", "token": token})
}

func (rs *RestfulServer) Login(c *gin.Context) {
	var req UserRequest
	if err := userRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	var user models.User
	if err := rs.Iot.Db.Conn.First(&user, "email = ?", req.Email).Error; err != nil || !CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := GenerateToken(user.Email, rs.JwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": token})
}

type DeviceRequest struct {
	DeviceID    string `json:"device_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Coordinates string `json:"coordinates"`
}

var deviceRequestSchema = z.Struct(z.Shape{
	"DeviceID":    z.String().Min(1).Required(),
	"Name":        z.String().Optional(),
	"Type":        z.String().Optional(),
	"Description": z.String().Optional(),
	"Coordinates": z.String().Optional(),
})

func (rs *RestfulServer) RegisterDevice(c *gin.Context) {
	user := currentUser(c)

	var req DeviceRequest
	if err := deviceRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	device := models.Device{
		DeviceID:    req.DeviceID,
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Coordinates: req.Coordinates,
		UserID:      user.ID,
	}
	if err := rs.Iot.Device.Register(&device); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "failed to register device"})
		return
	}
	c.JSON(http.StatusCreated, device)
}

func (rs *RestfulServer) ListDevices(c *gin.Context) {
	user := currentUser(c)

	devices, err := rs.Iot.Device.ListByUser(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (rs *RestfulServer) DeleteDevice(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	if err := rs.Iot.Device.Delete(device.DeviceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete device"})
		return
	}
	if rs.RateLimiterStore != nil {
		rs.RateLimiterStore.RemoveLimiter(device.DeviceID)
	}
	c.Status(http.StatusNoContent)
}

// GetReadings serves both the recent-N form (?limit=) and the inclusive
// range form (?from=&to=&order=asc|desc).
func (rs *RestfulServer) GetReadings(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr != "" && toStr != "" {
		from, err1 := time.Parse(time.RFC3339, fromStr)
		to, err2 := time.Parse(time.RFC3339, toStr)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must be RFC3339 timestamps"})
			return
		}
		readings, err := rs.Iot.Reading.Range(device.DeviceID, from, to, c.Query("order") != "desc")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query readings"})
			return
		}
		c.JSON(http.StatusOK, readings)
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	readings, err := rs.Iot.Reading.Recent(device.DeviceID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query readings"})
		return
	}
	c.JSON(http.StatusOK, readings)
}

type AlertRuleRequest struct {
	Parameter       string  `json:"parameter"`
	Operator        string  `json:"operator"`
	Threshold       float64 `json:"threshold"`
	Label           string  `json:"label"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

var alertRuleRequestSchema = z.Struct(z.Shape{
	"Parameter":       z.String().Min(1).Required(),
	"Operator":        z.String().OneOf([]string{"greater", "less", "equal"}).Required(),
	"Threshold":       z.Float64().Required(),
	"Label":           z.String().Min(1).Required(),
	"CooldownSeconds": z.Int().GTE(0).Optional(),
})

func (rs *RestfulServer) CreateAlertRule(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	var req AlertRuleRequest
	if err := alertRuleRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	rule := models.AlertRule{
		DeviceID:        device.DeviceID,
		Parameter:       req.Parameter,
		Operator:        models.CompareOp(req.Operator),
		Threshold:       req.Threshold,
		Label:           req.Label,
		CooldownSeconds: req.CooldownSeconds,
	}
	if err := rs.Iot.Alert.CreateRule(&rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create alert rule"})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (rs *RestfulServer) ListAlertRules(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	rules, err := rs.Iot.Alert.ListRules(device.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alert rules"})
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (rs *RestfulServer) DeleteAlertRule(c *gin.Context) {
	user := currentUser(c)

	ruleID, err := strconv.ParseUint(c.Param("alert_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	var rule models.AlertRule
	if err := rs.Iot.Db.Conn.First(&rule, uint(ruleID)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
		return
	}
	if !rs.ownsDevice(user, rule.DeviceID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
		return
	}

	if err := rs.Iot.Alert.DeleteRule(uint(ruleID)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert rule"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (rs *RestfulServer) ListNotifications(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	notifications, err := rs.Iot.Notification.List(device.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (rs *RestfulServer) UnseenCount(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	count, err := rs.Iot.Notification.UnseenCount(device.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unseen": count})
}

func (rs *RestfulServer) MarkNotificationsSeen(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	if err := rs.Iot.Notification.MarkSeen(device.DeviceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark notifications seen"})
		return
	}
	c.Status(http.StatusOK)
}

type ChartRequest struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	XAxisParams []string `json:"x_axis_params"`
	YAxisParams []string `json:"y_axis_params"`
	IsLive      bool     `json:"is_live"`
	Position    int      `json:"position"`
}

var chartRequestSchema = z.Struct(z.Shape{
	"Name":        z.String().Min(1).Required(),
	"Type":        z.String().Min(1).Required(),
	"XAxisParams": z.Slice(z.String()).Required(),
	"YAxisParams": z.Slice(z.String()).Required(),
	"IsLive":      z.Bool().Optional(),
	"Position":    z.Int().GTE(0).Optional(),
})

func (rs *RestfulServer) CreateChart(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	var req ChartRequest
	if err := chartRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	chart := models.Chart{
		DeviceID:    device.DeviceID,
		Name:        req.Name,
		Type:        req.Type,
		XAxisParams: req.XAxisParams,
		YAxisParams: req.YAxisParams,
		IsLive:      req.IsLive,
		Position:    req.Position,
	}
	if err := rs.Iot.Db.Conn.Create(&chart).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chart"})
		return
	}
	c.JSON(http.StatusCreated, chart)
}

func (rs *RestfulServer) ListCharts(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	var charts []models.Chart
	if err := rs.Iot.Db.Conn.Where("device_id = ?", device.DeviceID).Order("position asc").Find(&charts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list charts"})
		return
	}
	c.JSON(http.StatusOK, charts)
}

func (rs *RestfulServer) DeleteChart(c *gin.Context) {
	user := currentUser(c)

	chartID, err := strconv.ParseUint(c.Param("chart_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chart id"})
		return
	}

	var chart models.Chart
	if err := rs.Iot.Db.Conn.First(&chart, uint(chartID)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chart not found"})
		return
	}
	if !rs.ownsDevice(user, chart.DeviceID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "chart not found"})
		return
	}

	if err := rs.Iot.Db.Conn.Delete(&chart).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chart"})
		return
	}
	c.Status(http.StatusNoContent)
}

type LimiterRequest struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

var limiterRequestSchema = z.Struct(z.Shape{
	"Rate":  z.Float64().Required(),
	"Burst": z.Int().Required(),
})

func (rs *RestfulServer) PostLimiter(c *gin.Context) {
	device, ok := rs.userDevice(c)
	if !ok {
		return
	}

	var req LimiterRequest
	if err := limiterRequestSchema.Parse(zhttp.Request(c.Request), &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err})
		return
	}

	rs.SetLimiter(device.DeviceID, req.Rate, req.Burst)
	c.Status(http.StatusOK)
}

// userDevice resolves the :device_id route param to a device owned by the
// authenticated user, writing the error response itself when it cannot.
func (rs *RestfulServer) userDevice(c *gin.Context) (*models.Device, bool) {
	user := currentUser(c)
	deviceID := c.Param("device_id")

	device, err := rs.Iot.Device.Get(deviceID)
	if err != nil {
		if errors.Is(err, iot.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve device"})
		}
		return nil, false
	}
	if user == nil || device.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return nil, false
	}
	return device, true
}

func (rs *RestfulServer) ownsDevice(user *models.User, deviceID string) bool {
	if user == nil {
		return false
	}
	device, err := rs.Iot.Device.Get(deviceID)
	return err == nil && device.UserID == user.ID
}
