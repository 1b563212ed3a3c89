package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/db"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/iot/mocks"
	"farmiot.dev/iot-dashboard-service/pkg/models"
	_ "farmiot.dev/iot-dashboard-service/pkg/testing"
	"farmiot.dev/iot-dashboard-service/pkg/weather"
)

type fakeWeather struct {
	obs   *weather.Observation
	err   error
	calls int
}

func (f *fakeWeather) Current(ctx context.Context, lat, lon float64) (*weather.Observation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.obs, nil
}

func getTestWorker(t *testing.T, weatherSource WeatherSource) (*Worker, *iot.IOT, time.Time) {
	common.SetTestLoggerNop()

	dbInstance := db.GetInstance(db.UseMemorySqliteDialector())
	iotInstance := (&iot.IOT{Db: *dbInstance}).WithAllServices()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w := New(iotInstance, weatherSource).WithClock(func() time.Time { return now })
	return w, iotInstance, now
}

func seedDevice(t *testing.T, iotObj *iot.IOT, coordinates string) string {
	deviceID := uuid.NewString()
	err := iotObj.Device.Register(&models.Device{
		DeviceID:     deviceID,
		Name:         "backfill test device",
		Coordinates:  coordinates,
		RegisteredAt: time.Now(),
	})
	require.NoError(t, err)
	return deviceID
}

func numeric(t *testing.T, data models.DataMap, key string) float64 {
	value, ok := models.Numeric(data[key])
	require.True(t, ok, "field %q is not numeric: %v", key, data[key])
	return value
}

func TestRefreshSkipsFreshDevice(t *testing.T) {
	w, iotObj, now := getTestWorker(t, nil)
	deviceID := seedDevice(t, iotObj, "")

	_, err := iotObj.Reading.Append(deviceID, now.Add(-5*time.Minute),
		models.DataMap{"temperature": 21.0}, models.ReadingSourceDevice)
	require.NoError(t, err)

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	readings, err := iotObj.Reading.Recent(deviceID, 10)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

func TestRefreshPrefersMovingAverageOverWeather(t *testing.T) {
	fake := &fakeWeather{obs: &weather.Observation{Temperature: 99, Humidity: 99}}
	w, iotObj, now := getTestWorker(t, fake)
	deviceID := seedDevice(t, iotObj, "23.9051,87.7869")

	// 12 readings, newest 40 minutes old: enough history that prediction
	// wins even though the device has coordinates
	for i := 0; i < 12; i++ {
		ts := now.Add(-time.Duration(52-i) * time.Minute)
		_, err := iotObj.Reading.Append(deviceID, ts,
			models.DataMap{"temperature": float64(10 + i), "unit": "celsius"},
			models.ReadingSourceDevice)
		require.NoError(t, err)
	}

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	assert.Zero(t, fake.calls, "weather source should not be consulted")

	latest, err := iotObj.Reading.Latest(deviceID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.ReadingSourceSynthesized, latest.Source)
	assert.True(t, latest.Timestamp.Equal(now))
	// average of 10..21
	assert.InDelta(t, 15.5, numeric(t, latest.Data, "temperature"), 1e-9)
	assert.Equal(t, "celsius", latest.Data["unit"])
}

func TestRefreshEstimatesFromWeatherWithThinHistory(t *testing.T) {
	moisture := 0.4
	fake := &fakeWeather{obs: &weather.Observation{
		Temperature:  30,
		Humidity:     60,
		SoilMoisture: &moisture,
	}}
	w, iotObj, now := getTestWorker(t, fake)
	deviceID := seedDevice(t, iotObj, "23.9051,87.7869")

	_, err := iotObj.Reading.Append(deviceID, now.Add(-45*time.Minute),
		models.DataMap{"temperature": 25.0, "batper": 55.0}, models.ReadingSourceDevice)
	require.NoError(t, err)

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	assert.Equal(t, 1, fake.calls)

	latest, err := iotObj.Reading.Latest(deviceID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadingSourceSynthesized, latest.Source)
	assert.InDelta(t, 30.0, numeric(t, latest.Data, "temperature"), 1e-9)
	assert.InDelta(t, 60.0, numeric(t, latest.Data, "humidity"), 1e-9)
	assert.InDelta(t, 0.4, numeric(t, latest.Data, "moisture"), 1e-9)
	// battery carried from the last reading, voltage falls to default
	assert.InDelta(t, 55.0, numeric(t, latest.Data, "batper"), 1e-9)
	assert.InDelta(t, defaultBatteryVoltage, numeric(t, latest.Data, "batvtg"), 1e-9)
}

func TestRefreshDerivesMoistureWhenAPIOmitsIt(t *testing.T) {
	fake := &fakeWeather{obs: &weather.Observation{Temperature: 35.3, Humidity: 61}}
	w, iotObj, now := getTestWorker(t, fake)
	deviceID := seedDevice(t, iotObj, "10.0,20.0")

	_, err := iotObj.Reading.Append(deviceID, now.Add(-2*time.Hour),
		models.DataMap{}, models.ReadingSourceDevice)
	require.NoError(t, err)

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	latest, err := iotObj.Reading.Latest(deviceID)
	require.NoError(t, err)
	assert.InDelta(t, weather.EstimateMoisture(35.3, 61),
		numeric(t, latest.Data, "moisture"), 1e-9)
}

func TestRefreshCarriesForwardWithoutCoordinates(t *testing.T) {
	w, iotObj, now := getTestWorker(t, nil)
	deviceID := seedDevice(t, iotObj, "")

	_, err := iotObj.Reading.Append(deviceID, now.Add(-time.Hour),
		models.DataMap{"temperature": 18.5, "humidity": 70.0}, models.ReadingSourceDevice)
	require.NoError(t, err)

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	latest, err := iotObj.Reading.Latest(deviceID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadingSourceSynthesized, latest.Source)
	assert.InDelta(t, 18.5, numeric(t, latest.Data, "temperature"), 1e-9)
	assert.InDelta(t, 70.0, numeric(t, latest.Data, "humidity"), 1e-9)
}

func TestRefreshFallsBackWhenWeatherFails(t *testing.T) {
	fake := &fakeWeather{err: errors.New("api unreachable")}
	w, iotObj, now := getTestWorker(t, fake)
	deviceID := seedDevice(t, iotObj, "10.0,20.0")

	_, err := iotObj.Reading.Append(deviceID, now.Add(-time.Hour),
		models.DataMap{"temperature": 22.0}, models.ReadingSourceDevice)
	require.NoError(t, err)

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	assert.Equal(t, 1, fake.calls)

	latest, err := iotObj.Reading.Latest(deviceID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadingSourceSynthesized, latest.Source)
	assert.InDelta(t, 22.0, numeric(t, latest.Data, "temperature"), 1e-9)
}

func TestRefreshLeavesDeviceWithoutHistoryAlone(t *testing.T) {
	w, iotObj, _ := getTestWorker(t, nil)
	deviceID := seedDevice(t, iotObj, "")

	device, err := iotObj.Device.Get(deviceID)
	require.NoError(t, err)
	require.NoError(t, w.refreshDevice(context.Background(), device))

	latest, err := iotObj.Reading.Latest(deviceID)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestTickIsolatesPerDeviceFailure(t *testing.T) {
	common.SetTestLoggerNop()

	ctrl := gomock.NewController(t)
	deviceMock := mocks.NewMockIDevice(ctrl)
	readingMock := mocks.NewMockIReading(ctrl)

	dbInstance := db.GetInstance(db.UseMemorySqliteDialector())
	iotInstance := (&iot.IOT{Db: *dbInstance}).WithAllServices().
		WithServices(iot.ServiceOpts{Device: deviceMock, Reading: readingMock})

	deviceMock.EXPECT().ListAll().Return([]models.Device{
		{DeviceID: "dev-broken"},
		{DeviceID: "dev-empty"},
	}, nil)
	readingMock.EXPECT().Latest("dev-broken").Return(nil, errors.New("disk on fire"))
	// the broken device must not stop the sweep from reaching the next one
	readingMock.EXPECT().Latest("dev-empty").Return(nil, nil)
	readingMock.EXPECT().Recent("dev-empty", gomock.Any()).Return(nil, nil)

	w := New(iotInstance, nil)
	w.Tick(context.Background())
}
