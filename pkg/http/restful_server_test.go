package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"farmiot.dev/iot-dashboard-service/pkg/iot/mocks"
	_ "farmiot.dev/iot-dashboard-service/pkg/testing"

	"farmiot.dev/iot-dashboard-service/pkg/codec"
	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/db"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/models"
	"farmiot.dev/iot-dashboard-service/pkg/queue"
)

var testAesKey = []byte("0123456789abcdef")

func setupTestServer() *RestfulServer {
	iotObj := iot.IOT{
		Db: *db.GetInstance(db.UseMemorySqliteDialector()),
	}
	iotObj.WithAllServices()

	payloadCodec, err := codec.New(testAesKey)
	if err != nil {
		panic(err)
	}

	rs := &RestfulServer{
		Server:     gin.Default(),
		Iot:        &iotObj,
		Codec:      payloadCodec,
		Dispatcher: queue.NewMemoryDispatcher(16),
		JwtSecret:  []byte("test-jwt-secret"),
		// default we use no limiter, if needed assign rs.RateLimiterStore
	}

	rs.Setup()

	return rs
}

// registerTestUser creates a fresh user through the public endpoint and
// returns its bearer token.
func registerTestUser(t *testing.T, rs *RestfulServer) (string, string) {
	email := uuid.NewString() + "@example.com"
	body, _ := json.Marshal(UserRequest{Email: email, Password: "long-enough-password"})

	req := httptest.NewRequest(http.MethodPost, "/api/register-user", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
	return email, resp["token"]
}

func registerTestDevice(t *testing.T, rs *RestfulServer, token string) string {
	deviceID := uuid.NewString()
	body, _ := json.Marshal(DeviceRequest{DeviceID: deviceID, Name: "greenhouse sensor"})

	req := httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return deviceID
}

func authedRequest(method, target, token string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthCheck(t *testing.T) {
	rs := setupTestServer()

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	rs.Server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	email, _ := registerTestUser(t, rs)

	{
		// duplicate registration is rejected
		body, _ := json.Marshal(UserRequest{Email: email, Password: "long-enough-password"})
		req := httptest.NewRequest(http.MethodPost, "/api/register-user", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusConflict, w.Code)
	}

	{
		body, _ := json.Marshal(UserRequest{Email: email, Password: "long-enough-password"})
		req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	{
		body, _ := json.Marshal(UserRequest{Email: email, Password: "wrong-password-here"})
		req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	{
		// password below the minimum is rejected at validation
		body, _ := json.Marshal(UserRequest{Email: "short@example.com", Password: "short"})
		req := httptest.NewRequest(http.MethodPost, "/api/register-user", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()

	{
		req := httptest.NewRequest("GET", "/api/devices", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}

	{
		req := httptest.NewRequest("GET", "/api/devices", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestDeviceLifecycle(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	{
		req := authedRequest("GET", "/api/devices", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var devices []models.Device
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
		require.Len(t, devices, 1)
		assert.Equal(t, deviceID, devices[0].DeviceID)
	}

	{
		// a different user does not see or control this device
		_, otherToken := registerTestUser(t, rs)
		req := authedRequest("DELETE", "/api/devices/"+deviceID, otherToken, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	{
		req := authedRequest("DELETE", "/api/devices/"+deviceID, token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/readings", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
}

func TestPlainIngestTriggersAlert(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	{
		body, _ := json.Marshal(AlertRuleRequest{
			Parameter: "temperature",
			Operator:  "greater",
			Threshold: 30,
			Label:     "overheat",
		})
		req := authedRequest("POST", "/api/devices/"+deviceID+"/alerts", token, body)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	{
		// webhook form: bare query parameters, synchronous ingestion
		req := httptest.NewRequest("GET", "/data?device_id="+deviceID+"&temperature=45.5&humidity=60", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Status        string `json:"status"`
			ReadingID     uint   `json:"reading_id"`
			Notifications int    `json:"notifications"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.NotZero(t, resp.ReadingID)
		assert.Equal(t, 1, resp.Notifications)
	}

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/notifications", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var notifications []models.Notification
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
		require.Len(t, notifications, 1)
		assert.Equal(t, "overheat", notifications[0].Label)
		assert.False(t, notifications[0].Seen)
	}

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/notifications/unseen-count", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"unseen":1}`, w.Body.String())
	}

	{
		req := authedRequest("POST", "/api/devices/"+deviceID+"/notifications/seen", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/notifications/unseen-count", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.JSONEq(t, `{"unseen":0}`, w.Body.String())
	}
}

func TestPlainIngest_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()

	{
		rs := setupTestServer()
		// unknown device is a permanent rejection
		req := httptest.NewRequest("GET", "/data?device_id="+uuid.NewString()+"&temperature=1", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	{
		rs := setupTestServer()
		// device_id is mandatory in the webhook form
		req := httptest.NewRequest("GET", "/data?temperature=1", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	{
		rs := setupTestServer()
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()
		mockIIngest := mocks.NewMockIIngest(ctrl)
		rs.Iot.Ingest = mockIIngest
		mockIIngest.EXPECT().
			Ingest(gomock.Any()).
			Return(nil, fmt.Errorf("just causing error")).
			Times(1)

		req := httptest.NewRequest("GET", "/data?device_id="+uuid.NewString()+"&temperature=1", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}
}

func TestEncryptedIngestAccepted(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	payload, err := rs.Codec.EncryptPayload(&models.ReadingInput{
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Data:      models.DataMap{"temperature": 21.5},
	})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/data?payload="+url.QueryEscape(payload), nil)
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	// drain the queue the way the server process does
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rs.Dispatcher.Run(ctx, rs.IngestHandler())

	assert.Eventually(t, func() bool {
		latest, err := rs.Iot.Reading.Latest(deviceID)
		return err == nil && latest != nil
	}, 2*time.Second, 10*time.Millisecond, "queued reading should land in storage")

	latest, err := rs.Iot.Reading.Latest(deviceID)
	require.NoError(t, err)
	value, ok := models.Numeric(latest.Data["temperature"])
	require.True(t, ok)
	assert.InDelta(t, 21.5, value, 1e-9)
	assert.Equal(t, models.ReadingSourceDevice, latest.Source)
}

func TestEncryptedIngest_EdgeCases(t *testing.T) {
	common.SetTestLoggerNop()

	{
		rs := setupTestServer()
		req := httptest.NewRequest("GET", "/data?payload=not-base64-at-all", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	{
		// a payload outside the freshness window never reaches the queue
		rs := setupTestServer()
		payload, err := rs.Codec.EncryptPayload(&models.ReadingInput{
			DeviceID:  uuid.NewString(),
			Timestamp: time.Now().Add(-time.Hour),
			Data:      models.DataMap{"temperature": 21.5},
		})
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/data?payload="+url.QueryEscape(payload), nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestAlertRuleOwnershipAndValidation(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	{
		// operator outside the known set is rejected
		body, _ := json.Marshal(AlertRuleRequest{
			Parameter: "temperature",
			Operator:  "between",
			Threshold: 30,
			Label:     "bad",
		})
		req := authedRequest("POST", "/api/devices/"+deviceID+"/alerts", token, body)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	body, _ := json.Marshal(AlertRuleRequest{
		Parameter: "moisture",
		Operator:  "less",
		Threshold: 0.2,
		Label:     "dry soil",
	})
	req := authedRequest("POST", "/api/devices/"+deviceID+"/alerts", token, body)
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var rule models.AlertRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	require.NotZero(t, rule.ID)

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/alerts", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var rules []models.AlertRule
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rules))
		assert.Len(t, rules, 1)
	}

	{
		// rules are invisible to users who do not own the device
		_, otherToken := registerTestUser(t, rs)
		req := authedRequest("DELETE", fmt.Sprintf("/api/alerts/%d", rule.ID), otherToken, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	{
		req := authedRequest("DELETE", fmt.Sprintf("/api/alerts/%d", rule.ID), token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestChartLifecycle(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	body, _ := json.Marshal(ChartRequest{
		Name:        "temperature over time",
		Type:        "line",
		XAxisParams: []string{"timestamp"},
		YAxisParams: []string{"temperature"},
		IsLive:      true,
	})
	req := authedRequest("POST", "/api/devices/"+deviceID+"/charts", token, body)
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var chart models.Chart
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chart))
	require.NotZero(t, chart.ID)

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/charts", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		var charts []models.Chart
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &charts))
		require.Len(t, charts, 1)
		assert.Equal(t, []string{"temperature"}, []string(charts[0].YAxisParams))
	}

	{
		req := authedRequest("DELETE", fmt.Sprintf("/api/charts/%d", chart.ID), token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestGetReadingsRangeAndRecent(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServer()
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := rs.Iot.Reading.Append(deviceID, base.Add(time.Duration(i)*time.Hour),
			models.DataMap{"temperature": float64(i)}, models.ReadingSourceDevice)
		require.NoError(t, err)
	}

	{
		target := "/api/devices/" + deviceID + "/readings?from=" +
			url.QueryEscape(base.Add(time.Hour).Format(time.RFC3339)) + "&to=" +
			url.QueryEscape(base.Add(3*time.Hour).Format(time.RFC3339))
		req := authedRequest("GET", target, token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var readings []models.Reading
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &readings))
		// inclusive bounds, ascending by default
		require.Len(t, readings, 3)
		assert.True(t, readings[0].Timestamp.Before(readings[2].Timestamp))
	}

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/readings?limit=2", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var readings []models.Reading
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &readings))
		require.Len(t, readings, 2)
		// newest first
		assert.True(t, readings[0].Timestamp.After(readings[1].Timestamp))
	}

	{
		req := authedRequest("GET", "/api/devices/"+deviceID+"/readings?from=yesterday&to=today", token, nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func setupTestServerWithLimiter(limiter *iot.RateLimiterStore) *RestfulServer {
	rs := setupTestServer()
	rs.RateLimiterStore = limiter
	return rs
}

func TestIngestWithLimiter(t *testing.T) {
	common.SetTestLoggerNop()

	rs := setupTestServerWithLimiter(iot.NewRateLimiterStore(2, 2))
	_, token := registerTestUser(t, rs)
	deviceID := registerTestDevice(t, rs, token)

	// burst of 3, only 2 admitted
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/data?device_id="+deviceID+"&temperature=20", nil)
		w := httptest.NewRecorder()
		rs.Server.ServeHTTP(w, req)

		if i < 2 {
			require.Equal(t, http.StatusOK, w.Code, "request %d should be allowed", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, w.Code, "request %d should be rate limited", i+1)
		}
	}

	// raising the limit through the dashboard admits the next request
	body, _ := json.Marshal(LimiterRequest{Rate: 100, Burst: 10})
	req := authedRequest("POST", "/api/devices/"+deviceID+"/limiter", token, body)
	w := httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/data?device_id="+deviceID+"&temperature=20", nil)
	w = httptest.NewRecorder()
	rs.Server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
