package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	commands "planter-cloud/internal/commands/domain"
	"planter-cloud/internal/fanout"
	"planter-cloud/internal/observability/metrics"
)

const defaultHistoryLimit = 50

var (
	// ErrDeviceNotFound marks an unknown device reference.
	ErrDeviceNotFound = errors.New("commands: device not found")
	// ErrForbidden marks a device the caller does not own.
	ErrForbidden = errors.New("commands: device not owned by caller")
	// ErrCommandNotFound marks an unknown command reference.
	ErrCommandNotFound = errors.New("commands: command not found")
	// ErrInvalidOutcome marks an outcome other than executed/failed.
	ErrInvalidOutcome = errors.New("commands: invalid outcome")
)

// Repository is the durable command queue. MarkOutcome must apply the
// terminal transition atomically with the pending check and report whether
// this call performed it.
type Repository interface {
	Create(ctx context.Context, cmd *commands.Command) error
	GetByID(ctx context.Context, id string) (*commands.Command, error)
	ListPending(ctx context.Context, deviceID string) ([]commands.Command, error)
	MarkOutcome(ctx context.Context, id, status string, executedAt time.Time) (bool, error)
	ListHistory(ctx context.Context, deviceID string, limit int) ([]commands.Command, error)
	DeleteByDevice(ctx context.Context, deviceID string) error
}

// DeviceDirectory resolves device existence and ownership. Ownership is the
// external authorization collaborator for Enqueue.
type DeviceDirectory interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
	Owns(ctx context.Context, userID, deviceID string) (bool, error)
}

// Notifier learns about new pending commands; the delivery router implements
// it to attempt an immediate push.
type Notifier interface {
	CommandEnqueued(cmd commands.Command)
}

// Publisher receives command status events for fan-out.
type Publisher interface {
	Publish(event fanout.Event)
}

// Store owns the command lifecycle: pending until exactly one terminal
// transition, executed or failed.
type Store struct {
	repo     Repository
	devices  DeviceDirectory
	notifier Notifier
	bus      Publisher
	logger   *log.Logger
	now      func() time.Time
}

// NewStore constructs a command store. notifier and bus may be nil.
func NewStore(repo Repository, devices DeviceDirectory, notifier Notifier, bus Publisher, logger *log.Logger) (*Store, error) {
	if repo == nil {
		return nil, errors.New("commands store: nil repository")
	}
	if devices == nil {
		return nil, errors.New("commands store: nil device directory")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{repo: repo, devices: devices, notifier: notifier, bus: bus, logger: logger, now: time.Now}, nil
}

// Enqueue validates and creates a pending command for a device owned by
// userID, then notifies the delivery router.
func (s *Store) Enqueue(ctx context.Context, userID, deviceID, commandType, commandValue string) (*commands.Command, error) {
	if err := commands.Validate(commandType, commandValue); err != nil {
		return nil, err
	}
	exists, err := s.devices.Exists(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeviceNotFound
	}
	owns, err := s.devices.Owns(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrForbidden
	}

	cmd := &commands.Command{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Type:      commandType,
		Value:     commandValue,
		Status:    commands.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, cmd); err != nil {
		return nil, err
	}
	metrics.IncCommandEnqueued()

	if s.notifier != nil {
		s.notifier.CommandEnqueued(*cmd)
	}
	return cmd, nil
}

// ListPending returns the device's pending commands oldest first. Listing is
// non-destructive; polling does not change command state.
func (s *Store) ListPending(ctx context.Context, deviceID string) ([]commands.Command, error) {
	exists, err := s.devices.Exists(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeviceNotFound
	}
	return s.repo.ListPending(ctx, deviceID)
}

// ReportOutcome applies a terminal transition. Idempotent: a report for an
// already-terminal command is a silent no-op, because both delivery channels
// may report and retries must not be punished.
func (s *Store) ReportOutcome(ctx context.Context, commandID, outcome string) error {
	if !commands.ValidOutcome(outcome) {
		return ErrInvalidOutcome
	}
	applied, err := s.repo.MarkOutcome(ctx, commandID, outcome, s.now().UTC())
	if err != nil {
		return err
	}
	if !applied {
		cmd, err := s.repo.GetByID(ctx, commandID)
		if err != nil {
			return err
		}
		if cmd == nil {
			return ErrCommandNotFound
		}
		metrics.IncDuplicateOutcome()
		return nil
	}

	metrics.IncCommandOutcome(outcome)
	if s.bus != nil {
		cmd, err := s.repo.GetByID(ctx, commandID)
		if err != nil || cmd == nil {
			s.logger.Printf("commands: reload %s after outcome: %v", commandID, err)
			return nil
		}
		s.bus.Publish(fanout.CommandStatusChanged(cmd.DeviceID, cmd.ID, outcome))
	}
	return nil
}

// ReportDeviceOutcome is ReportOutcome bound to the reporting device. A
// command belonging to a different device is not found, so one device can
// neither learn about nor resolve another device's commands.
func (s *Store) ReportDeviceOutcome(ctx context.Context, deviceID, commandID, outcome string) error {
	if !commands.ValidOutcome(outcome) {
		return ErrInvalidOutcome
	}
	cmd, err := s.repo.GetByID(ctx, commandID)
	if err != nil {
		return err
	}
	if cmd == nil || cmd.DeviceID != deviceID {
		return ErrCommandNotFound
	}
	return s.ReportOutcome(ctx, commandID, outcome)
}

// History returns recent commands, newest first, for a device the caller owns.
func (s *Store) History(ctx context.Context, userID, deviceID string, limit int) ([]commands.Command, error) {
	exists, err := s.devices.Exists(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrDeviceNotFound
	}
	owns, err := s.devices.Owns(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if !owns {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repo.ListHistory(ctx, deviceID, limit)
}

// PurgeForDevice removes all commands for a device, any state. Called by
// device deletion so orphaned commands cannot survive their device.
func (s *Store) PurgeForDevice(ctx context.Context, deviceID string) error {
	return s.repo.DeleteByDevice(ctx, deviceID)
}
