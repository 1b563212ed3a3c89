package codec

import (
	"crypto/aes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"farmiot.dev/iot-dashboard-service/pkg/common"
	"farmiot.dev/iot-dashboard-service/pkg/models"
)

var (
	ErrMalformed = errors.New("malformed payload")
	ErrStale     = errors.New("stale timestamp")
)

// FreshnessWindow bounds how far a replayed or clock-skewed payload can drift
// from server time and still be accepted.
const FreshnessWindow = 300 * time.Second

// payloadEnvelope is the decrypted JSON shape the device fleet sends.
type payloadEnvelope struct {
	DeviceID  string         `json:"device_id"`
	Timestamp string         `json:"timestamp"`
	Data      models.DataMap `json:"data"`
}

// Codec decodes inbound device payloads into canonical reading inputs. The
// cipher key is fixed at construction; the fleet's scheme is AES-ECB over a
// space-padded JSON envelope, base64 wrapped for query transport.
type Codec struct {
	key    []byte
	now    func() time.Time
	logger *zap.Logger
}

func New(key []byte) (*Codec, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("aes key must be 16, 24 or 32 bytes, got %d", len(key))
	}
	return &Codec{
		key: key,
		now: time.Now,
		logger: common.GetLoggerWith(
			common.LoggerNameIOTCore,
			zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTCodec),
		),
	}, nil
}

// WithClock replaces the codec's clock, for freshness tests.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// Decode handles the encrypted form: base64-decode, decrypt, parse the JSON
// envelope, then apply the freshness window against the payload's own clock.
func (c *Codec) Decode(payload string) (*models.ReadingInput, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformed, err)
	}

	plain, err := c.decryptECB(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var env payloadEnvelope
	if err := json.Unmarshal([]byte(strings.TrimRight(string(plain), " ")), &env); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformed, err)
	}

	if env.DeviceID == "" || env.Timestamp == "" || env.Data == nil {
		return nil, fmt.Errorf("%w: missing device_id, timestamp or data", ErrMalformed)
	}

	ts, err := parseTimestamp(env.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", ErrMalformed, err)
	}

	if age := c.now().Sub(ts); age > FreshnessWindow || age < -FreshnessWindow {
		c.logger.Warn("Rejecting stale payload",
			zap.String("device_id", env.DeviceID),
			zap.Time("payload_timestamp", ts))
		return nil, fmt.Errorf("%w: payload timestamp %s outside %s window", ErrStale, ts.Format(time.RFC3339), FreshnessWindow)
	}

	return &models.ReadingInput{
		DeviceID:  env.DeviceID,
		Timestamp: ts,
		Data:      env.Data,
		Source:    models.ReadingSourceDevice,
	}, nil
}

// DecodeQuery handles the plain webhook form: every query parameter except
// device_id becomes a string-typed data entry. No timestamp travels with this
// form; the coordinator assigns current time to a zero Timestamp.
func DecodeQuery(values url.Values) (*models.ReadingInput, error) {
	deviceID := values.Get("device_id")
	if deviceID == "" {
		return nil, fmt.Errorf("%w: missing device_id", ErrMalformed)
	}

	data := models.DataMap{}
	for key, vals := range values {
		if key == "device_id" || len(vals) == 0 {
			continue
		}
		data[key] = vals[0]
	}

	return &models.ReadingInput{
		DeviceID: deviceID,
		Data:     data,
		Source:   models.ReadingSourceDevice,
	}, nil
}

func (c *Codec) decryptECB(raw []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a multiple of block size", len(raw))
	}
	plain := make([]byte, len(raw))
	for i := 0; i < len(raw); i += block.BlockSize() {
		block.Decrypt(plain[i:i+block.BlockSize()], raw[i:i+block.BlockSize()])
	}
	return plain, nil
}

// EncryptPayload is the inverse of Decode, used by the fleet simulator and by
// tests. Pads the JSON envelope with spaces to the block size.
func (c *Codec) EncryptPayload(in *models.ReadingInput) (string, error) {
	env := payloadEnvelope{
		DeviceID:  in.DeviceID,
		Timestamp: in.Timestamp.UTC().Format(time.RFC3339),
		Data:      in.Data,
	}
	plain, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	bs := block.BlockSize()
	if rem := len(plain) % bs; rem != 0 {
		plain = append(plain, []byte(strings.Repeat(" ", bs-rem))...)
	}
	out := make([]byte, len(plain))
	for i := 0; i < len(plain); i += bs {
		block.Encrypt(out[i:i+bs], plain[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func parseTimestamp(s string) (time.Time, error) {
	// devices send ISO-8601 with or without zone information
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
