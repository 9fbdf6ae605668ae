package simulator

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"airguard.dev/gateway/internal/gate"
	"airguard.dev/gateway/internal/ingest"
)

// Device models the capture hardware: a slowly drifting position, an
// inertial sensor at rest and an ambient temperature with noise.
type Device struct {
	faker        *gofakeit.Faker
	sessionStart time.Time

	lat, lon, alt float64
	baselineTemp  float64
}

// NewDevice places a device at a random location.
func NewDevice(faker *gofakeit.Faker, sessionStart time.Time) *Device {
	return &Device{
		faker:        faker,
		sessionStart: sessionStart,
		lat:          faker.Latitude(),
		lon:          faker.Longitude(),
		alt:          faker.Float64Range(0, 2500),
		baselineTemp: faker.Float64Range(15, 30),
	}
}

// NewBatchID returns a random id in the device's hex format.
func (d *Device) NewBatchID() string {
	return fmt.Sprintf("0x%08X", d.faker.Uint32())
}

// Capture builds the payload for one batch taken at now.
func (d *Device) Capture(batchID string, now time.Time, samples int, signals gate.Signals) *ingest.RawSample {
	d.drift()

	utc := now.UTC()
	fix := 0
	if signals.PositionValid {
		fix = 1
	}

	return &ingest.RawSample{
		BatchID:   &batchID,
		SessionMs: now.Sub(d.sessionStart).Milliseconds(),
		Samples:   samples,
		DateYMD:   utc.Year()*10000 + int(utc.Month())*100 + utc.Day(),
		TimeHMS:   utc.Hour()*10000 + utc.Minute()*100 + utc.Second(),
		Msec:      utc.Nanosecond() / int(time.Millisecond),
		Lat:       d.lat,
		Lon:       d.lon,
		Alt:       d.alt,
		GPSFix:    fix,
		Sats:      signals.Satellites,
		AX:        d.noise(0.02),
		AY:        d.noise(0.02),
		AZ:        1 + d.noise(0.02),
		GX:        d.noise(0.5),
		GY:        d.noise(0.5),
		GZ:        d.noise(0.5),
		TempC:     d.baselineTemp + d.noise(0.5),
	}
}

// drift moves the device a few meters, keeping coordinates in range.
func (d *Device) drift() {
	d.lat = clamp(d.lat+d.noise(0.0001), -90, 90)
	d.lon = clamp(d.lon+d.noise(0.0001), -180, 180)
	d.alt = max(0, d.alt+d.noise(0.5))
}

func (d *Device) noise(amplitude float64) float64 {
	return d.faker.Float64Range(-amplitude, amplitude)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
