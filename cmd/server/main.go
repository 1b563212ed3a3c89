package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"farmiot.dev/iot-dashboard-service/pkg/codec"
	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/db"
	iotHttp "farmiot.dev/iot-dashboard-service/pkg/http"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/queue"
)

func main() {
	var err error

	err = godotenv.Load()
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

	httpHostPort := strings.TrimSpace(os.Getenv(common.EnvKeyIOTHttpHostPort))
	if httpHostPort == "" {
		// fallback to default http port
		httpHostPort = ":1080"
	}

	aesKey := os.Getenv(common.EnvKeyIOTAesKey)
	payloadCodec, err := codec.New([]byte(aesKey))
	if err != nil {
		log.Fatal("Invalid IOT_AES_KEY: ", err)
	}

	jwtSecret := os.Getenv(common.EnvKeyIOTJwtSecret)
	if jwtSecret == "" {
		log.Fatal("IOT_JWT_SECRET must be set")
	}

	var defaultRate float64
	var defaultBurst int64

	if defaultRate, err = strconv.ParseFloat(os.Getenv(common.EnvKeyIOTDefaultRate), 64); err != nil {
		log.Fatal("Invalid IOT_DEFAULT_RATE, or not set in .env, should be a float64 value")
	}

	if defaultBurst, err = strconv.ParseInt(os.Getenv(common.EnvKeyIOTDefaultBurst), 10, 64); err != nil {
		log.Fatal("Invalid IOT_DEFAULT_BURST, or not set in .env, should be an int value")
	}

	logger := common.GetLogger()

	iotCore := iot.IOT{
		Db: *dbInstance,
	}
	iotCore.WithAllServices()

	var dispatcher queue.Dispatcher
	redisURL := strings.TrimSpace(os.Getenv(common.EnvKeyIOTRedisURL))
	queueName := common.EnvOrDefault(common.EnvKeyIOTQueueName, "ingest")
	if redisURL != "" {
		dispatcher, err = queue.NewRedisDispatcher(redisURL, queueName)
		if err != nil {
			log.Fatal("Failed to connect to redis: ", err)
		}
		logger.Info("Using redis ingest queue", zap.String("queue", queueName))
	} else {
		dispatcher = queue.NewMemoryDispatcher(1024)
		logger.Info("Using in-process ingest queue")
	}

	rs := &iotHttp.RestfulServer{
		Server:           gin.Default(),
		Iot:              &iotCore,
		Codec:            payloadCodec,
		Dispatcher:       dispatcher,
		RateLimiterStore: iot.NewRateLimiterStore(rate.Limit(defaultRate), int(defaultBurst)),
		JwtSecret:        []byte(jwtSecret),
	}
	rs.Setup()

	go func() {
		if err := dispatcher.Run(context.Background(), rs.IngestHandler()); err != nil {
			log.Fatalf("ingest queue consumer failed: %v", err)
		}
	}()

	logger.Info("http server created with:",
		zap.String("default_limiter",
			fmt.Sprintf("{\"default_rate\": %v, \"default_burst\": %v}", defaultRate, defaultBurst)))

	logger.Info("Starting HTTP server on: " + httpHostPort)
	if err := rs.Server.Run(httpHostPort); err != nil {
		log.Fatalf("http server failed to serve: %v", err)
	}
}
