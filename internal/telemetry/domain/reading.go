package telemetry

import (
	"errors"
	"time"
)

// ErrEmptyReading marks a reading carrying no sensor values.
var ErrEmptyReading = errors.New("telemetry: reading has no values")

// Reading is one snapshot of a device's sensors. Absent sensors are nil.
type Reading struct {
	ID           string    `json:"id"`
	DeviceID     string    `json:"deviceId"`
	PlantID      string    `json:"plantId,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	Humidity     *float64  `json:"humidity,omitempty"`
	SoilMoisture *float64  `json:"soilMoisture,omitempty"`
	WaterLevel   *float64  `json:"waterLevel,omitempty"`
	LightLevel   *float64  `json:"lightLevel,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// Validate checks the reading carries at least one sensor value.
func (r Reading) Validate() error {
	if r.Temperature == nil && r.Humidity == nil && r.SoilMoisture == nil &&
		r.WaterLevel == nil && r.LightLevel == nil {
		return ErrEmptyReading
	}
	return nil
}
