// Package store provides deduplicated, append-only persistence for telemetry
// samples keyed by batch identifier.
package store

import (
	"time"
)

// Sample is one telemetry batch as persisted and as delivered to API callers
// and real-time subscribers.
type Sample struct {
	BatchID           string     `gorm:"uniqueIndex:idx_samples_batch_id;size:64;not null" json:"batchId"`
	SessionDurationMs int64      `gorm:"not null" json:"sessionMs"`
	SampleCount       int        `gorm:"not null" json:"samples"`
	CapturedAt        *time.Time `json:"capturedAt"`

	Latitude   float64 `gorm:"not null" json:"lat"`
	Longitude  float64 `gorm:"not null" json:"lon"`
	Altitude   float64 `gorm:"not null" json:"alt"`
	FixValid   bool    `gorm:"not null" json:"gpsFix"`
	Satellites int     `gorm:"not null" json:"sats"`

	AccelX       float64 `gorm:"not null" json:"ax"`
	AccelY       float64 `gorm:"not null" json:"ay"`
	AccelZ       float64 `gorm:"not null" json:"az"`
	GyroX        float64 `gorm:"not null" json:"gx"`
	GyroY        float64 `gorm:"not null" json:"gy"`
	GyroZ        float64 `gorm:"not null" json:"gz"`
	TemperatureC float64 `gorm:"not null" json:"tempC"`

	ReceivedAt time.Time `gorm:"not null" json:"receivedAt"`
	StoredAt   time.Time `gorm:"index:idx_samples_stored_at;not null" json:"storedAt"`
	ID         uint      `gorm:"primaryKey" json:"-"`
}

// TableName specifies the table name for Sample model.
func (Sample) TableName() string {
	return "samples"
}
