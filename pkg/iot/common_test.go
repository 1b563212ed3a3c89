package iot

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"farmiot.dev/iot-dashboard-service/pkg/db"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

// GetTestIOT wires a fully database-backed IOT over the shared in-memory
// sqlite. Callers can swap individual services for mocks via WithServices.
func GetTestIOT(t *testing.T) (*gomock.Controller, *IOT) {
	ctrl := gomock.NewController(t)

	dialector := db.UseMemorySqliteDialector()
	dbInstance := db.GetInstance(dialector) // ensure migrations
	iotInstance := (&IOT{Db: *dbInstance}).WithAllServices()

	return ctrl, iotInstance
}

// seedDevice registers a device with a unique id so tests sharing the
// in-memory database stay independent.
func seedDevice(t *testing.T, iotObj *IOT) string {
	deviceID := uuid.NewString()
	err := iotObj.Device.Register(&models.Device{
		DeviceID:     deviceID,
		Name:         "test device",
		RegisteredAt: time.Now(),
	})
	require.NoError(t, err)
	return deviceID
}

func ParseLogs(r io.Reader) []any {
	scanner := bufio.NewScanner(r)
	var logs []any

	for scanner.Scan() {
		line := scanner.Text()
		var j any
		if err := json.Unmarshal([]byte(line), &j); err == nil {
			logs = append(logs, j)
		}
	}
	return logs
}
