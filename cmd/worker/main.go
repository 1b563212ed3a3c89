package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/db"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/weather"
	"farmiot.dev/iot-dashboard-service/pkg/worker"
)

// Runs the freshness backfill loop as its own process, sharing the durable
// store with the server.
func main() {
	err := godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file, copy .env.example to .env first if in development")
	}

	var dbInstance *db.DB
	iotDbType := os.Getenv(common.EnvKeyIOTDBType)
	switch iotDbType {
	case "file":
		dbInstance = db.GetInstance(db.UseSqliteDialector())
	case "memory":
		dbInstance = db.GetInstance(db.UseMemorySqliteDialector())
	default:
		log.Fatal("Unknown IOT_DB_TYPE: " + iotDbType)
	}

	logger := common.GetLogger()

	iotCore := iot.IOT{
		Db: *dbInstance,
	}
	iotCore.WithAllServices()

	weatherClient := weather.NewClient(os.Getenv(common.EnvKeyIOTWeatherBaseURL))

	w := worker.New(&iotCore, weatherClient)
	w.Interval = time.Duration(common.EnvIntOrDefault(common.EnvKeyIOTBackfillInterval, 60)) * time.Second
	w.Staleness = time.Duration(common.EnvIntOrDefault(common.EnvKeyIOTBackfillStaleness, 30)) * time.Minute

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting backfill worker")
	if err := w.Run(ctx); err != nil {
		log.Fatalf("backfill worker failed: %v", err)
	}
}
