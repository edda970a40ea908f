package users

import "time"

// User is a registered account. PasswordHash is a bcrypt digest and never
// leaves the service.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	CreatedAt    time.Time
}
