package http

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"farmiot.dev/iot-dashboard-service/pkg/codec"
	"farmiot.dev/iot-dashboard-service/pkg/iot"
	"farmiot.dev/iot-dashboard-service/pkg/queue"
)

type RestfulServer struct {
	Server           *gin.Engine
	Iot              *iot.IOT
	Codec            *codec.Codec
	Dispatcher       queue.Dispatcher
	RateLimiterStore *iot.RateLimiterStore
	JwtSecret        []byte
}

func (rs *RestfulServer) GetLimiter(deviceID string) *rate.Limiter {
	if rs.RateLimiterStore == nil {
		return nil
	} else {
		return rs.RateLimiterStore.GetLimiter(deviceID)
	}
}

func (rs *RestfulServer) CheckDeviceLimiter(deviceID string) bool {
	limiter := rs.GetLimiter(deviceID)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

func (rs *RestfulServer) SetLimiter(deviceID string, deviceRate float64, deviceBurst int) {
	if rs.RateLimiterStore == nil {
		return
	}
	rs.RateLimiterStore.SetLimiter(deviceID, rate.Limit(deviceRate), deviceBurst)
}

func (rs *RestfulServer) Setup() {
	rs.Server.GET("/healthz", rs.HealthCheck)

	// device-facing ingestion, no dashboard auth
	rs.Server.GET("/data", rs.IngestData)

	rs.Server.POST("/api/register-user", rs.RegisterUser)
	rs.Server.POST("/api/login", rs.Login)

	api := rs.Server.Group("/api", rs.RequireAuth())
	{
		api.GET("/devices", rs.ListDevices)
		api.POST("/devices", rs.RegisterDevice)

		device := api.Group("/devices/:device_id")
		{
			device.DELETE("", rs.DeleteDevice)
			device.GET("/readings", rs.GetReadings)
			device.GET("/alerts", rs.ListAlertRules)
			device.POST("/alerts", rs.CreateAlertRule)
			device.GET("/notifications", rs.ListNotifications)
			device.GET("/notifications/unseen-count", rs.UnseenCount)
			device.POST("/notifications/seen", rs.MarkNotificationsSeen)
			device.GET("/charts", rs.ListCharts)
			device.POST("/charts", rs.CreateChart)
			device.POST("/limiter", rs.PostLimiter)
		}

		api.DELETE("/alerts/:alert_id", rs.DeleteAlertRule)
		api.DELETE("/charts/:chart_id", rs.DeleteChart)
	}
}
