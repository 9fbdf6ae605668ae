// Package ingest is the single entry point for inbound telemetry: it decodes,
// normalizes and validates a sample, stores it with batch id deduplication and
// fans newly stored samples out to subscribers.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"airguard.dev/gateway/internal/store"
)

var (
	// ErrInvalidSample is returned for payloads that are malformed or fail validation.
	ErrInvalidSample = errors.New("invalid sample")
	// ErrDuplicateBatch is returned when the batch id is already stored.
	ErrDuplicateBatch = errors.New("duplicate batch")
)

// RawSample is the JSON payload accepted on both the HTTP write path and the
// bus. Required fields are pointers so absence can be told apart from zero.
type RawSample struct {
	BatchID   *string `json:"batchId"`
	SessionMs int64   `json:"sessionMs"`
	Samples   int     `json:"samples"`

	// Device clock: dateYMD as YYYYMMDD, timeHMS as HHMMSS, msec 0-999.
	DateYMD int `json:"dateYMD"`
	TimeHMS int `json:"timeHMS"`
	Msec    int `json:"msec"`

	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Alt    float64 `json:"alt"`
	GPSFix int     `json:"gpsFix"`
	Sats   int     `json:"sats"`

	AX    float64 `json:"ax"`
	AY    float64 `json:"ay"`
	AZ    float64 `json:"az"`
	GX    float64 `json:"gx"`
	GY    float64 `json:"gy"`
	GZ    float64 `json:"gz"`
	TempC float64 `json:"tempC"`

	// Set by an upstream gateway that already stamped the receipt time.
	ReceivedTs *time.Time `json:"receivedTs,omitempty"`
}

// Decode parses a JSON payload. Malformed JSON and wrongly typed fields are
// reported as ErrInvalidSample.
func Decode(payload []byte) (*RawSample, error) {
	var raw RawSample
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	return &raw, nil
}

// NormalizeBatchID trims the id, strips a 0x prefix and upper-cases it, so the
// hex forms produced by the device and by relays compare equal.
func NormalizeBatchID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) >= 2 && (id[:2] == "0x" || id[:2] == "0X") {
		id = id[2:]
	}
	return strings.ToUpper(id)
}

// Validate checks required fields and value ranges.
func (r *RawSample) Validate() error {
	if r.BatchID == nil || NormalizeBatchID(*r.BatchID) == "" {
		return fmt.Errorf("%w: batchId is required", ErrInvalidSample)
	}
	if len(NormalizeBatchID(*r.BatchID)) > 64 {
		return fmt.Errorf("%w: batchId longer than 64 characters", ErrInvalidSample)
	}
	if r.SessionMs < 0 {
		return fmt.Errorf("%w: sessionMs must not be negative", ErrInvalidSample)
	}
	if r.Samples < 0 {
		return fmt.Errorf("%w: samples must not be negative", ErrInvalidSample)
	}
	if r.Sats < 0 {
		return fmt.Errorf("%w: sats must not be negative", ErrInvalidSample)
	}
	if math.Abs(r.Lat) > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrInvalidSample, r.Lat)
	}
	if math.Abs(r.Lon) > 180 {
		return fmt.Errorf("%w: lon %v out of range", ErrInvalidSample, r.Lon)
	}
	return nil
}

// Normalize validates the payload and converts it into a store.Sample.
// receivedAt is used unless the payload carries its own receipt time.
func (r *RawSample) Normalize(receivedAt time.Time) (*store.Sample, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	if r.ReceivedTs != nil && !r.ReceivedTs.IsZero() {
		receivedAt = *r.ReceivedTs
	}

	return &store.Sample{
		BatchID:           NormalizeBatchID(*r.BatchID),
		SessionDurationMs: r.SessionMs,
		SampleCount:       r.Samples,
		CapturedAt:        deviceTime(r.DateYMD, r.TimeHMS, r.Msec),
		Latitude:          r.Lat,
		Longitude:         r.Lon,
		Altitude:          r.Alt,
		FixValid:          r.GPSFix != 0,
		Satellites:        r.Sats,
		AccelX:            r.AX,
		AccelY:            r.AY,
		AccelZ:            r.AZ,
		GyroX:             r.GX,
		GyroY:             r.GY,
		GyroZ:             r.GZ,
		TemperatureC:      r.TempC,
		ReceivedAt:        receivedAt.UTC(),
	}, nil
}

// deviceTime builds the capture time from the device clock fields. It returns
// nil when the device had no date or the fields do not form a real instant.
func deviceTime(ymd, hms, msec int) *time.Time {
	if ymd <= 0 {
		return nil
	}

	year, month, day := ymd/10000, (ymd/100)%100, ymd%100
	hour, minute, sec := hms/10000, (hms/100)%100, hms%100
	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || sec > 59 || msec < 0 || msec > 999 || hms < 0 {
		return nil
	}

	t := time.Date(year, time.Month(month), day, hour, minute, sec, msec*int(time.Millisecond), time.UTC)
	if t.Day() != day {
		return nil // e.g. 20260231
	}
	return &t
}
