package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"planter-cloud/internal/fanout"
	"planter-cloud/internal/observability/metrics"
	telemetry "planter-cloud/internal/telemetry/domain"
)

const defaultHistoryLimit = 100

var (
	// ErrDeviceNotFound marks an unknown device reference.
	ErrDeviceNotFound = errors.New("telemetry: device not found")
	// ErrPlantNotFound marks a plant the caller cannot read.
	ErrPlantNotFound = errors.New("telemetry: plant not found")
)

// ReadingRepository is the durable reading log.
type ReadingRepository interface {
	Insert(ctx context.Context, reading *telemetry.Reading) error
	Latest(ctx context.Context, plantID string) (*telemetry.Reading, error)
	History(ctx context.Context, plantID string, from, to time.Time, limit int) ([]telemetry.Reading, error)
}

// DeviceDirectory resolves device existence.
type DeviceDirectory interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
}

// PlantDirectory resolves plant linkage and ownership.
type PlantDirectory interface {
	PlantIDForDevice(ctx context.Context, deviceID string) (string, error)
	OwnedBy(ctx context.Context, userID, plantID string) (bool, error)
}

// Toucher refreshes device last-seen on inbound reports.
type Toucher interface {
	Touch(ctx context.Context, deviceID string)
}

// Publisher receives telemetry events for fan-out.
type Publisher interface {
	Publish(event fanout.Event)
}

// IngestRequest is one inbound sensor report from a device.
type IngestRequest struct {
	DeviceID     string   `json:"deviceId"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	SoilMoisture *float64 `json:"soilMoisture"`
	WaterLevel   *float64 `json:"waterLevel"`
	LightLevel   *float64 `json:"lightLevel"`
}

// Service ingests readings and answers reading queries.
type Service struct {
	repo    ReadingRepository
	devices DeviceDirectory
	plants  PlantDirectory
	toucher Toucher
	bus     Publisher
	logger  *log.Logger
	now     func() time.Time
}

// NewService constructs a telemetry service. toucher and bus may be nil.
func NewService(repo ReadingRepository, devices DeviceDirectory, plants PlantDirectory, toucher Toucher, bus Publisher, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("telemetry service: nil repository")
	}
	if devices == nil {
		return nil, errors.New("telemetry service: nil device directory")
	}
	if plants == nil {
		return nil, errors.New("telemetry service: nil plant directory")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{repo: repo, devices: devices, plants: plants, toucher: toucher, bus: bus, logger: logger, now: time.Now}, nil
}

// Ingest validates and stores a reading, refreshes presence last-seen and
// fans out telemetry_recorded to the device's observers.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*telemetry.Reading, error) {
	if req.DeviceID == "" {
		metrics.IncIngest(false)
		return nil, ErrDeviceNotFound
	}
	exists, err := s.devices.Exists(ctx, req.DeviceID)
	if err != nil {
		metrics.IncIngest(false)
		return nil, err
	}
	if !exists {
		metrics.IncIngest(false)
		return nil, ErrDeviceNotFound
	}

	reading := &telemetry.Reading{
		ID:           uuid.NewString(),
		DeviceID:     req.DeviceID,
		Temperature:  req.Temperature,
		Humidity:     req.Humidity,
		SoilMoisture: req.SoilMoisture,
		WaterLevel:   req.WaterLevel,
		LightLevel:   req.LightLevel,
		RecordedAt:   s.now().UTC(),
	}
	if err := reading.Validate(); err != nil {
		metrics.IncIngest(false)
		return nil, err
	}

	plantID, err := s.plants.PlantIDForDevice(ctx, req.DeviceID)
	if err != nil {
		s.logger.Printf("telemetry: resolve plant for %s: %v", req.DeviceID, err)
	}
	reading.PlantID = plantID

	if s.toucher != nil {
		s.toucher.Touch(ctx, req.DeviceID)
	}
	if err := s.repo.Insert(ctx, reading); err != nil {
		metrics.IncIngest(false)
		return nil, err
	}
	metrics.IncIngest(true)

	if s.bus != nil {
		s.bus.Publish(fanout.TelemetryRecorded(reading.DeviceID, reading.PlantID, reading))
	}
	return reading, nil
}

// Latest returns the newest reading for a plant the caller owns.
func (s *Service) Latest(ctx context.Context, userID, plantID string) (*telemetry.Reading, error) {
	if err := s.authorize(ctx, userID, plantID); err != nil {
		return nil, err
	}
	return s.repo.Latest(ctx, plantID)
}

// History returns readings for a plant the caller owns inside [from, to).
func (s *Service) History(ctx context.Context, userID, plantID string, from, to time.Time, limit int) ([]telemetry.Reading, error) {
	if err := s.authorize(ctx, userID, plantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if to.IsZero() {
		to = s.now().UTC()
	}
	return s.repo.History(ctx, plantID, from, to, limit)
}

func (s *Service) authorize(ctx context.Context, userID, plantID string) error {
	owned, err := s.plants.OwnedBy(ctx, userID, plantID)
	if err != nil {
		return err
	}
	if !owned {
		return ErrPlantNotFound
	}
	return nil
}
