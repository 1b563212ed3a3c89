package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	_ "farmiot.dev/iot-dashboard-service/pkg/testing"
)

func TestCurrentParsesForecast(t *testing.T) {
	common.SetTestLoggerNop()

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"current": {"temperature_2m": 35.3, "relative_humidity_2m": 61.0},
			"daily": {"soil_moisture_0_to_10cm_mean": [0.23]}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	obs, err := client.Current(context.Background(), 23.9051, 87.7869)
	require.NoError(t, err)

	assert.Equal(t, 35.3, obs.Temperature)
	assert.Equal(t, 61.0, obs.Humidity)
	require.NotNil(t, obs.SoilMoisture)
	assert.Equal(t, 0.23, *obs.SoilMoisture)

	assert.Contains(t, gotQuery, "latitude=23.9051")
	assert.Contains(t, gotQuery, "current=temperature_2m%2Crelative_humidity_2m")
}

func TestCurrentWithoutSoilMoisture(t *testing.T) {
	common.SetTestLoggerNop()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"current": {"temperature_2m": 20.0, "relative_humidity_2m": 50.0}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	obs, err := client.Current(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, obs.SoilMoisture)
}

func TestCurrentAPIError(t *testing.T) {
	common.SetTestLoggerNop()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Current(context.Background(), 1, 2)
	assert.Error(t, err)
}

func TestEstimateMoisture(t *testing.T) {
	// empirical index: humidity / (temperature + 1)
	assert.InDelta(t, 61.0/36.3, EstimateMoisture(35.3, 61.0), 1e-9)
}
