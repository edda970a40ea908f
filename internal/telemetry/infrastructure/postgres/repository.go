package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	telemetry "planter-cloud/internal/telemetry/domain"
)

// ReadingRepository is a Postgres implementation of the sensor reading log.
type ReadingRepository struct {
	db *sql.DB
}

// NewReadingRepository constructs a repository.
func NewReadingRepository(db *sql.DB) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Insert stores a reading against the device's internal key.
func (r *ReadingRepository) Insert(ctx context.Context, reading *telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if reading == nil {
		return errors.New("reading repo: nil reading")
	}
	plantID := sql.NullString{String: reading.PlantID, Valid: reading.PlantID != ""}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO sensor_readings
	(id, device_key, plant_id, temperature, humidity, soil_moisture, water_level, light_level, recorded_at)
SELECT $1, d.id, $2, $3, $4, $5, $6, $7, $8
FROM devices d
WHERE d.device_id = $9`,
		reading.ID, plantID, reading.Temperature, reading.Humidity, reading.SoilMoisture,
		reading.WaterLevel, reading.LightLevel, reading.RecordedAt, reading.DeviceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("reading repo: unknown device")
	}
	return nil
}

// Latest returns the newest reading for a plant, nil when none exist.
func (r *ReadingRepository) Latest(ctx context.Context, plantID string) (*telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT s.id, d.device_id, s.plant_id, s.temperature, s.humidity, s.soil_moisture, s.water_level, s.light_level, s.recorded_at
FROM sensor_readings s
JOIN devices d ON d.id = s.device_key
WHERE s.plant_id = $1
ORDER BY s.recorded_at DESC
LIMIT 1`, plantID)
	return scanReading(row)
}

// History returns readings for a plant inside [from, to), newest first.
func (r *ReadingRepository) History(ctx context.Context, plantID string, from, to time.Time, limit int) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT s.id, d.device_id, s.plant_id, s.temperature, s.humidity, s.soil_moisture, s.water_level, s.light_level, s.recorded_at
FROM sensor_readings s
JOIN devices d ON d.id = s.device_key
WHERE s.plant_id = $1 AND s.recorded_at >= $2 AND s.recorded_at < $3
ORDER BY s.recorded_at DESC
LIMIT $4`, plantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []telemetry.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *reading)
	}
	return list, rows.Err()
}

func scanReading(row interface{ Scan(dest ...any) error }) (*telemetry.Reading, error) {
	var reading telemetry.Reading
	var plantID sql.NullString
	err := row.Scan(&reading.ID, &reading.DeviceID, &plantID, &reading.Temperature, &reading.Humidity,
		&reading.SoilMoisture, &reading.WaterLevel, &reading.LightLevel, &reading.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	reading.PlantID = plantID.String
	return &reading, nil
}
