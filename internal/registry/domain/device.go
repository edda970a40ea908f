package registry

import "time"

// Device is a registered field controller. DeviceID is the opaque identifier
// the hardware itself reports; Key is the internal database key and never
// leaves the backend.
type Device struct {
	Key       string
	DeviceID  string
	UserID    string
	Name      string
	Online    bool
	LastSeen  time.Time
	CreatedAt time.Time
}
