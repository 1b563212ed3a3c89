package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyIOTLogDir string = "IOT_LOG_DIR"

	EnvKeyIOTDBType string = "IOT_DB_TYPE"
	EnvKeyIOTDbPath string = "IOT_DB_PATH"

	EnvKeyIOTHttpHostPort string = "IOT_HTTP_HOST_PORT"

	EnvKeyIOTAesKey    string = "IOT_AES_KEY"
	EnvKeyIOTJwtSecret string = "IOT_JWT_SECRET"

	EnvKeyIOTRedisURL  string = "IOT_REDIS_URL"
	EnvKeyIOTQueueName string = "IOT_QUEUE_NAME"

	EnvKeyIOTDefaultRate  string = "IOT_DEFAULT_RATE"
	EnvKeyIOTDefaultBurst string = "IOT_DEFAULT_BURST"

	EnvKeyIOTWeatherBaseURL string = "IOT_WEATHER_BASE_URL"

	EnvKeyIOTBackfillInterval  string = "IOT_BACKFILL_INTERVAL_SECONDS"
	EnvKeyIOTBackfillStaleness string = "IOT_BACKFILL_STALENESS_MINUTES"

	LoggerNameIOTCore        string = "iot_core"
	LoggerNameRestfulServer  string = "restful_server"
	LoggerNameIngestQueue    string = "ingest_queue"
	LoggerNameBackfillWorker string = "backfill_worker"
	LoggerNameWeatherClient  string = "weather_client"

	LoggerFieldIOTCategory string = "category"

	LoggerCategoryIOTDevice       string = "device"
	LoggerCategoryIOTReading      string = "reading"
	LoggerCategoryIOTAlert        string = "alert"
	LoggerCategoryIOTNotification string = "notification"
	LoggerCategoryIOTIngest       string = "ingest"
	LoggerCategoryIOTCodec        string = "codec"
)
