package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	registry "planter-cloud/internal/registry/domain"
)

// DeviceRepository is a Postgres implementation of the device registry. It
// also implements the presence sink, persisting online/last-seen so metadata
// reads reflect presence while the in-memory tracker stays authoritative.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create registers a device for a user.
func (r *DeviceRepository) Create(ctx context.Context, device *registry.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (id, device_id, user_id, name, is_online, created_at)
VALUES ($1, $2, $3, $4, false, $5)`,
		device.Key, device.DeviceID, device.UserID, device.Name, device.CreatedAt)
	return err
}

// GetByDeviceID fetches a device by its opaque identifier, nil when absent.
func (r *DeviceRepository) GetByDeviceID(ctx context.Context, deviceID string) (*registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, device_id, user_id, name, is_online, last_seen, created_at
FROM devices
WHERE device_id = $1`, deviceID)
	return scanDevice(row)
}

// ListByUser returns a user's devices, newest first.
func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_id, user_id, name, is_online, last_seen, created_at
FROM devices
WHERE user_id = $1
ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []registry.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *device)
	}
	return list, rows.Err()
}

// DeviceIDsByUser returns the opaque identifiers of a user's devices.
func (r *DeviceRepository) DeviceIDsByUser(ctx context.Context, userID string) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_id FROM devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Rename updates the device name, scoped to the owning user.
func (r *DeviceRepository) Rename(ctx context.Context, userID, deviceID, name string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices SET name = $1
WHERE device_id = $2 AND user_id = $3`, name, deviceID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Delete removes a device owned by the user.
func (r *DeviceRepository) Delete(ctx context.Context, userID, deviceID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM devices WHERE device_id = $1 AND user_id = $2`, deviceID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Exists reports whether the opaque identifier is registered.
func (r *DeviceRepository) Exists(ctx context.Context, deviceID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE device_id = $1`, deviceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Owns reports whether the user owns the device.
func (r *DeviceRepository) Owns(ctx context.Context, userID, deviceID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("device repo: nil db")
	}
	var one int
	err := r.db.QueryRowContext(ctx, `
SELECT 1 FROM devices WHERE device_id = $1 AND user_id = $2`, deviceID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetPresence persists online flag and last-seen.
func (r *DeviceRepository) SetPresence(ctx context.Context, deviceID string, online bool, lastSeen time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE devices SET is_online = $1, last_seen = $2
WHERE device_id = $3`, online, lastSeen, deviceID)
	return err
}

// TouchLastSeen persists last-seen without changing the online flag.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE devices SET last_seen = $1
WHERE device_id = $2`, lastSeen, deviceID)
	return err
}

func scanDevice(row interface{ Scan(dest ...any) error }) (*registry.Device, error) {
	var device registry.Device
	var lastSeen sql.NullTime
	err := row.Scan(&device.Key, &device.DeviceID, &device.UserID, &device.Name, &device.Online, &lastSeen, &device.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeen = lastSeen.Time
	}
	return &device, nil
}
