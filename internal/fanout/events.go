package fanout

import (
	"encoding/json"
	"time"
)

const (
	KindPresenceChanged      = "presence_changed"
	KindTelemetryRecorded    = "telemetry_recorded"
	KindCommandStatusChanged = "command_status_changed"
)

// Event is one fan-out notification for a single device.
type Event struct {
	Kind     string          `json:"event"`
	DeviceID string          `json:"deviceId"`
	At       time.Time       `json:"at"`
	Data     json.RawMessage `json:"data"`
}

type presenceChangedData struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type telemetryRecordedData struct {
	PlantID string          `json:"plantId,omitempty"`
	Reading json.RawMessage `json:"reading"`
}

type commandStatusChangedData struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
}

// PresenceChanged builds a presence_changed event.
func PresenceChanged(deviceID string, online bool, lastSeen time.Time) Event {
	data, _ := json.Marshal(presenceChangedData{Online: online, LastSeen: lastSeen.UTC()})
	return Event{Kind: KindPresenceChanged, DeviceID: deviceID, At: time.Now().UTC(), Data: data}
}

// TelemetryRecorded builds a telemetry_recorded event. The reading is any
// JSON-marshalable value; a marshal failure yields an empty object.
func TelemetryRecorded(deviceID, plantID string, reading any) Event {
	raw, err := json.Marshal(reading)
	if err != nil {
		raw = []byte("{}")
	}
	data, _ := json.Marshal(telemetryRecordedData{PlantID: plantID, Reading: raw})
	return Event{Kind: KindTelemetryRecorded, DeviceID: deviceID, At: time.Now().UTC(), Data: data}
}

// CommandStatusChanged builds a command_status_changed event.
func CommandStatusChanged(deviceID, commandID, status string) Event {
	data, _ := json.Marshal(commandStatusChangedData{CommandID: commandID, Status: status})
	return Event{Kind: KindCommandStatusChanged, DeviceID: deviceID, At: time.Now().UTC(), Data: data}
}
