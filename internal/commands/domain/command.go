package commands

import (
	"errors"
	"regexp"
	"time"
)

const (
	StatusPending  = "pending"
	StatusExecuted = "executed"
	StatusFailed   = "failed"
)

const (
	maxTypeLength  = 64
	maxValueLength = 256
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ErrInvalidCommand marks a malformed command type or value.
var ErrInvalidCommand = errors.New("commands: invalid command")

// Command represents one actuation request for a device. A command is
// created pending and reaches at most one terminal status, executed or
// failed, via an outcome report.
type Command struct {
	ID         string
	DeviceID   string
	Type       string
	Value      string
	Status     string
	CreatedAt  time.Time
	ExecutedAt time.Time
}

// Terminal reports whether the command has reached a terminal status.
func (c Command) Terminal() bool {
	return c.Status == StatusExecuted || c.Status == StatusFailed
}

// ValidOutcome reports whether status is a legal terminal status.
func ValidOutcome(status string) bool {
	return status == StatusExecuted || status == StatusFailed
}

// Validate checks command type and value before enqueue.
func Validate(commandType, commandValue string) error {
	if commandType == "" || len(commandType) > maxTypeLength {
		return ErrInvalidCommand
	}
	if !typePattern.MatchString(commandType) {
		return ErrInvalidCommand
	}
	// An empty value is legal; restart-style commands carry none.
	if len(commandValue) > maxValueLength {
		return ErrInvalidCommand
	}
	return nil
}
