// Package weather fetches current conditions from an open-meteo compatible
// API, used by the backfill worker to estimate readings for devices with thin
// history.
package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"farmiot.dev/iot-dashboard-service/pkg/common"
)

const DefaultBaseURL = "https://api.open-meteo.com"

// Observation is the subset of the forecast response the worker consumes.
// SoilMoisture is nil when the API does not report a daily soil-moisture mean
// for the location.
type Observation struct {
	Temperature  float64
	Humidity     float64
	SoilMoisture *float64
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
	} `json:"current"`
	Daily struct {
		SoilMoisture []float64 `json:"soil_moisture_0_to_10cm_mean"`
	} `json:"daily"`
}

type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     common.GetLoggerWith(common.LoggerNameWeatherClient),
	}
}

// Current fetches current temperature and relative humidity for a location.
// One attempt per call; the worker treats failures as best-effort and moves
// on to the next device.
func (c *Client) Current(ctx context.Context, lat, lon float64) (*Observation, error) {
	var payload forecastResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  fmt.Sprintf("%v", lat),
			"longitude": fmt.Sprintf("%v", lon),
			"current":   "temperature_2m,relative_humidity_2m",
			"daily":     "soil_moisture_0_to_10cm_mean",
		}).
		SetResult(&payload).
		Get("/v1/forecast")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("weather api returned status %d", resp.StatusCode())
	}

	obs := &Observation{
		Temperature: payload.Current.Temperature,
		Humidity:    payload.Current.Humidity,
	}
	if len(payload.Daily.SoilMoisture) > 0 {
		m := payload.Daily.SoilMoisture[0]
		obs.SoilMoisture = &m
	}

	c.logger.Debug("Fetched weather observation",
		zap.Float64("latitude", lat),
		zap.Float64("longitude", lon),
		zap.Float64("temperature", obs.Temperature),
		zap.Float64("humidity", obs.Humidity))
	return obs, nil
}

// EstimateMoisture derives a soil-moisture index from air conditions when the
// API has no direct figure. Empirical: humidity / (temperature + 1).
func EstimateMoisture(temperature, humidity float64) float64 {
	return humidity / (temperature + 1)
}
