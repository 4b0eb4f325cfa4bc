package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const TimestampLayout = "2006-01-02 15:04:05"

var ErrInvalidReading = errors.New("invalid reading")

type Reading struct {
	Timestamp time.Time
	Value     float64
}

type readingJSON struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

func NewReading(receivedAt time.Time, value float64) Reading {
	return Reading{Timestamp: receivedAt.Truncate(time.Second), Value: value}
}

func (reading Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		Timestamp: reading.Timestamp.Format(TimestampLayout),
		Value:     reading.Value,
	})
}

func (reading *Reading) UnmarshalJSON(raw []byte) error {
	var payload readingJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	timestamp, err := time.ParseInLocation(TimestampLayout, payload.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}

	reading.Timestamp = timestamp
	reading.Value = payload.Value
	return nil
}

// Sample is what a producer pushes. DeviceID is carried for logging only.
type Sample struct {
	DeviceID string
	Glucose  float64
}

func DecodeSample(raw []byte) (Sample, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	return decodeSamplePayload(payload)
}

func decodeSamplePayload(payload map[string]any) (Sample, error) {
	if payload == nil {
		return Sample{}, fmt.Errorf("%w: empty payload", ErrInvalidReading)
	}

	glucose, err := parseFloatField(payload, "glucose")
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	deviceID, _ := payload["device_id"].(string)

	return Sample{DeviceID: strings.TrimSpace(deviceID), Glucose: glucose}, nil
}

func parseFloatField(payload map[string]any, key string) (float64, error) {
	value, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing field: %s", key)
	}

	parsed, err := parseFloat(value)
	if err != nil {
		return 0, fmt.Errorf("invalid field %s: %w", key, err)
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, fmt.Errorf("invalid field %s: not a finite number", key)
	}
	return parsed, nil
}

func parseFloat(value any) (float64, error) {
	switch typed := value.(type) {
	case json.Number:
		return typed.Float64()
	case string:
		return parseDecimal(typed)
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	default:
		return 0, fmt.Errorf("unsupported number type %T", value)
	}
}

// parseDecimal accepts decimal and exponent notation only. strconv would also
// take hex floats like "0x1p4", which no sensor sends; digit separators such as
// "1_000" are rejected as well.
func parseDecimal(text string) (float64, error) {
	text = strings.TrimSpace(text)
	if strings.ContainsAny(text, "xX_") {
		return 0, fmt.Errorf("not a decimal number: %q", text)
	}
	return strconv.ParseFloat(text, 64)
}
