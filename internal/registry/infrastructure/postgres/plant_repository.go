package postgres

import (
	"context"
	"database/sql"
	"errors"

	registry "planter-cloud/internal/registry/domain"
)

// PlantRepository is a Postgres implementation of the plant registry.
type PlantRepository struct {
	db *sql.DB
}

// NewPlantRepository constructs a repository.
func NewPlantRepository(db *sql.DB) *PlantRepository {
	return &PlantRepository{db: db}
}

// Create inserts a plant. DeviceKey may be empty for an unlinked plant.
func (r *PlantRepository) Create(ctx context.Context, plant *registry.Plant) error {
	if r == nil || r.db == nil {
		return errors.New("plant repo: nil db")
	}
	if plant == nil {
		return errors.New("plant repo: nil plant")
	}
	deviceKey := sql.NullString{String: plant.DeviceKey, Valid: plant.DeviceKey != ""}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO plants (id, user_id, device_key, name, species, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		plant.ID, plant.UserID, deviceKey, plant.Name, plant.Species, plant.CreatedAt)
	return err
}

// ListByUser returns a user's plants with linked device presence, newest first.
func (r *PlantRepository) ListByUser(ctx context.Context, userID string) ([]registry.Plant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plant repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT p.id, p.user_id, p.device_key, p.name, p.species, p.created_at,
	d.device_id, d.is_online, d.last_seen
FROM plants p
LEFT JOIN devices d ON d.id = p.device_key
WHERE p.user_id = $1
ORDER BY p.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []registry.Plant
	for rows.Next() {
		plant, err := scanPlant(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *plant)
	}
	return list, rows.Err()
}

// GetForUser fetches a plant owned by the user, nil when absent.
func (r *PlantRepository) GetForUser(ctx context.Context, userID, plantID string) (*registry.Plant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plant repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT p.id, p.user_id, p.device_key, p.name, p.species, p.created_at,
	d.device_id, d.is_online, d.last_seen
FROM plants p
LEFT JOIN devices d ON d.id = p.device_key
WHERE p.id = $1 AND p.user_id = $2`, plantID, userID)
	return scanPlant(row)
}

// Update changes name, species and device link, scoped to the owning user.
func (r *PlantRepository) Update(ctx context.Context, plant *registry.Plant) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("plant repo: nil db")
	}
	if plant == nil {
		return false, errors.New("plant repo: nil plant")
	}
	deviceKey := sql.NullString{String: plant.DeviceKey, Valid: plant.DeviceKey != ""}
	result, err := r.db.ExecContext(ctx, `
UPDATE plants SET name = $1, species = $2, device_key = $3
WHERE id = $4 AND user_id = $5`,
		plant.Name, plant.Species, deviceKey, plant.ID, plant.UserID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// Delete removes a plant owned by the user.
func (r *PlantRepository) Delete(ctx context.Context, userID, plantID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("plant repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
DELETE FROM plants WHERE id = $1 AND user_id = $2`, plantID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// OwnedBy reports whether the user owns the plant.
func (r *PlantRepository) OwnedBy(ctx context.Context, userID, plantID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("plant repo: nil db")
	}
	var one int
	err := r.db.QueryRowContext(ctx, `
SELECT 1 FROM plants WHERE id = $1 AND user_id = $2`, plantID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PlantIDForDevice returns the plant linked to a device's opaque identifier,
// or empty when none is linked.
func (r *PlantRepository) PlantIDForDevice(ctx context.Context, deviceID string) (string, error) {
	if r == nil || r.db == nil {
		return "", errors.New("plant repo: nil db")
	}
	var plantID string
	err := r.db.QueryRowContext(ctx, `
SELECT p.id
FROM plants p
JOIN devices d ON d.id = p.device_key
WHERE d.device_id = $1
LIMIT 1`, deviceID).Scan(&plantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return plantID, nil
}

func scanPlant(row interface{ Scan(dest ...any) error }) (*registry.Plant, error) {
	var plant registry.Plant
	var deviceKey, deviceID sql.NullString
	var online sql.NullBool
	var lastSeen sql.NullTime
	err := row.Scan(&plant.ID, &plant.UserID, &deviceKey, &plant.Name, &plant.Species, &plant.CreatedAt,
		&deviceID, &online, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plant.DeviceKey = deviceKey.String
	plant.DeviceID = deviceID.String
	plant.DeviceOnline = online.Bool
	if lastSeen.Valid {
		plant.DeviceLastSeen = lastSeen.Time
	}
	return &plant, nil
}
