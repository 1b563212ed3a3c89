// Fleet simulator: drives the ingest endpoint the way real devices do, with
// AES-encrypted payloads, so a development dashboard always has data flowing.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"farmiot.dev/iot-dashboard-service/pkg/codec"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

var (
	hostPort   = flag.String("host", "127.0.0.1:1080", "server host:port")
	aesKey     = flag.String("key", "", "AES key shared with the server (16/24/32 bytes)")
	numDevices = flag.Int("devices", 5, "number of simulated devices")
	interval   = flag.Duration("interval", 10*time.Second, "delay between rounds")
	plain      = flag.Bool("plain", false, "use the plain webhook form instead of encrypted payloads")
)

var rnd *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

func main() {
	flag.Parse()

	var payloadCodec *codec.Codec
	if !*plain {
		var err error
		payloadCodec, err = codec.New([]byte(*aesKey))
		if err != nil {
			log.Fatal("invalid -key: ", err)
		}
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", *hostPort))
	if err != nil {
		log.Fatal("Failed to connect to HTTP server:", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatal("HTTP server not available")
	}

	fmt.Printf("http server verified\n")

	deviceIDs := make([]string, *numDevices)
	for i := range deviceIDs {
		deviceIDs[i] = fmt.Sprintf("%04d", 1000+i)
	}

	for round := 0; ; round++ {
		for _, deviceID := range deviceIDs {
			if err := sendReading(payloadCodec, deviceID); err != nil {
				fmt.Printf("device %v: %v\n", deviceID, err)
			}
		}
		fmt.Printf("\rcompleted round %v for %v devices", round, *numDevices)
		time.Sleep(*interval)
	}
}

func rndFloat64(min, max float64, decimal int) float64 {
	val := min + rnd.Float64()*(max-min)
	multiplier := float64(math.Pow10(decimal))
	return float64(math.Round(float64(val)*float64(multiplier))) / multiplier
}

func sendReading(payloadCodec *codec.Codec, deviceID string) error {
	data := models.DataMap{
		"temperature": rndFloat64(15.0, 45.0, 2),
		"humidity":    rndFloat64(20.0, 95.0, 2),
		"moisture":    rndFloat64(0.0, 1.0, 2),
		"batper":      rndFloat64(5.0, 100.0, 0),
		"batvtg":      rndFloat64(3.1, 4.2, 2),
	}

	var target string
	if payloadCodec != nil {
		payload, err := payloadCodec.EncryptPayload(&models.ReadingInput{
			DeviceID:  deviceID,
			Timestamp: time.Now(),
			Data:      data,
		})
		if err != nil {
			return err
		}
		target = fmt.Sprintf("http://%s/data?payload=%s", *hostPort, url.QueryEscape(payload))
	} else {
		values := url.Values{"device_id": {deviceID}}
		for key, value := range data {
			values.Set(key, fmt.Sprintf("%v", value))
		}
		target = fmt.Sprintf("http://%s/data?%s", *hostPort, values.Encode())
	}

	resp, err := http.Get(target)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %v", resp.StatusCode)
	}
	return nil
}
