package registry

import "time"

// Plant is a monitored plant, optionally linked to the device watching it.
type Plant struct {
	ID        string
	UserID    string
	DeviceKey string
	Name      string
	Species   string
	CreatedAt time.Time

	// Denormalized device fields for listings; empty when no device linked.
	DeviceID       string
	DeviceOnline   bool
	DeviceLastSeen time.Time
}
