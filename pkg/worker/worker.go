// Package worker keeps dashboard data fresh: a perpetual loop that finds
// devices without a recent reading and synthesizes a plausible next one. The
// synthesized reading re-enters through the same ingestion coordinator as
// device traffic, so it participates in alerting identically.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/models"
	"farmiot.dev/iot-dashboard-service/pkg/weather"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultStaleness = 30 * time.Minute

	// history thresholds for strategy selection
	minHistoryForPrediction = 10
	predictionWindow        = 50

	// battery fallbacks when no history carries them
	defaultBatteryPercent = 88.0
	defaultBatteryVoltage = 4.10
)

// WeatherSource is the external estimation dependency, satisfied by
// *weather.Client.
type WeatherSource interface {
	Current(ctx context.Context, lat, lon float64) (*weather.Observation, error)
}

type Worker struct {
	Iot       *iot.IOT
	Weather   WeatherSource
	Interval  time.Duration
	Staleness time.Duration

	now    func() time.Time
	logger *zap.Logger
}

func New(iotCore *iot.IOT, weatherSource WeatherSource) *Worker {
	return &Worker{
		Iot:       iotCore,
		Weather:   weatherSource,
		Interval:  DefaultInterval,
		Staleness: DefaultStaleness,
		now:       time.Now,
		logger:    common.GetLoggerWith(common.LoggerNameBackfillWorker),
	}
}

// WithClock replaces the worker's clock, for staleness tests.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Run ticks until ctx is cancelled. A tick failure is logged and the loop
// sleeps until the next tick regardless.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Backfill worker started",
		zap.Duration("interval", w.Interval),
		zap.Duration("staleness", w.Staleness))

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Backfill worker stopped")
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick sweeps all devices once. Per-device failures are logged and skipped;
// one bad device never aborts the sweep.
func (w *Worker) Tick(ctx context.Context) {
	devices, err := w.Iot.Device.ListAll()
	if err != nil {
		w.logger.Error("Failed to list devices", zap.Error(err))
		return
	}

	for _, device := range devices {
		if ctx.Err() != nil {
			return
		}
		if err := w.refreshDevice(ctx, &device); err != nil {
			w.logger.Error("Failed to refresh device",
				zap.String("device_id", device.DeviceID),
				zap.Error(err))
		}
	}
}

func (w *Worker) refreshDevice(ctx context.Context, device *models.Device) error {
	latest, err := w.Iot.Reading.Latest(device.DeviceID)
	if err != nil {
		return err
	}
	if latest != nil && w.now().Sub(latest.Timestamp) < w.Staleness {
		return nil
	}

	data, strategy, err := w.synthesize(ctx, device, latest)
	if err != nil {
		return err
	}
	if data == nil {
		// nothing to synthesize from, leave the device alone
		return nil
	}

	w.logger.Info("Synthesizing reading for stale device",
		zap.String("device_id", device.DeviceID),
		zap.String("strategy", strategy))

	_, err = w.Iot.Ingest.Ingest(&models.ReadingInput{
		DeviceID:  device.DeviceID,
		Timestamp: w.now(),
		Data:      data,
		Source:    models.ReadingSourceSynthesized,
	})
	return err
}

// synthesize picks the richest strategy the device's history supports:
// moving average over the recent window when enough history exists, weather
// estimation when the device has registered coordinates, carry-forward of the
// last reading otherwise.
func (w *Worker) synthesize(ctx context.Context, device *models.Device, latest *models.Reading) (models.DataMap, string, error) {
	recent, err := w.Iot.Reading.Recent(device.DeviceID, predictionWindow)
	if err != nil {
		return nil, "", err
	}

	if len(recent) >= minHistoryForPrediction {
		return movingAverage(recent), "historical_prediction", nil
	}

	if device.Coordinates != "" && w.Weather != nil {
		data, err := w.estimateFromWeather(ctx, device, latest)
		if err == nil {
			return data, "weather_estimation", nil
		}
		w.logger.Warn("Weather estimation failed, falling back",
			zap.String("device_id", device.DeviceID),
			zap.Error(err))
	}

	if latest != nil {
		return carryForward(latest), "carry_forward", nil
	}

	return nil, "", nil
}

func carryForward(latest *models.Reading) models.DataMap {
	data := models.DataMap{}
	for key, value := range latest.Data {
		data[key] = value
	}
	return data
}

// movingAverage averages every numeric field across the window. Fields that
// never coerce to a number keep their most recent value.
func movingAverage(recent []models.Reading) models.DataMap {
	sums := map[string]float64{}
	counts := map[string]int{}
	nonNumeric := models.DataMap{}

	// recent is ordered newest first; walk oldest first so nonNumeric keeps
	// the newest value
	for i := len(recent) - 1; i >= 0; i-- {
		for key, raw := range recent[i].Data {
			if value, ok := models.Numeric(raw); ok {
				sums[key] += value
				counts[key]++
			} else {
				nonNumeric[key] = raw
			}
		}
	}

	data := models.DataMap{}
	for key, sum := range sums {
		data[key] = sum / float64(counts[key])
	}
	for key, value := range nonNumeric {
		if _, present := data[key]; !present {
			data[key] = value
		}
	}
	return data
}

// estimateFromWeather derives temperature, humidity and moisture from the
// device's registered location. Battery fields fall back to the last known
// values or fixed defaults; there is no way to estimate a battery remotely.
func (w *Worker) estimateFromWeather(ctx context.Context, device *models.Device, latest *models.Reading) (models.DataMap, error) {
	lat, lon, err := iot.ParseCoordinates(device.Coordinates)
	if err != nil {
		return nil, err
	}

	obs, err := w.Weather.Current(ctx, lat, lon)
	if err != nil {
		return nil, err
	}

	moisture := weather.EstimateMoisture(obs.Temperature, obs.Humidity)
	if obs.SoilMoisture != nil {
		moisture = *obs.SoilMoisture
	}

	data := models.DataMap{
		"temperature": obs.Temperature,
		"humidity":    obs.Humidity,
		"moisture":    moisture,
	}

	data["batper"] = carryOrDefault(latest, "batper", defaultBatteryPercent)
	data["batvtg"] = carryOrDefault(latest, "batvtg", defaultBatteryVoltage)
	return data, nil
}

func carryOrDefault(latest *models.Reading, key string, fallback float64) any {
	if latest != nil {
		if raw, present := latest.Data[key]; present {
			return raw
		}
	}
	return fallback
}
