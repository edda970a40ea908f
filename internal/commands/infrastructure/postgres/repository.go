package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	commands "planter-cloud/internal/commands/domain"
)

// CommandRepository is a Postgres implementation of the command queue.
// Commands are stored against the device's internal key but queried by the
// opaque device identifier.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// Create inserts a pending command.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if cmd == nil {
		return errors.New("command repo: nil command")
	}
	result, err := r.db.ExecContext(ctx, `
INSERT INTO device_commands (id, device_key, command_type, command_value, status, created_at)
SELECT $1, d.id, $2, $3, $4, $5
FROM devices d
WHERE d.device_id = $6`,
		cmd.ID, cmd.Type, cmd.Value, cmd.Status, cmd.CreatedAt, cmd.DeviceID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("command repo: unknown device")
	}
	return nil
}

// GetByID fetches a command by id, nil when absent.
func (r *CommandRepository) GetByID(ctx context.Context, id string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT c.id, d.device_id, c.command_type, c.command_value, c.status, c.created_at, c.executed_at
FROM device_commands c
JOIN devices d ON d.id = c.device_key
WHERE c.id = $1`, id)
	return scanCommand(row)
}

// ListPending returns pending commands for the device, oldest first with
// insertion order breaking creation-time ties.
func (r *CommandRepository) ListPending(ctx context.Context, deviceID string) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT c.id, d.device_id, c.command_type, c.command_value, c.status, c.created_at, c.executed_at
FROM device_commands c
JOIN devices d ON d.id = c.device_key
WHERE d.device_id = $1 AND c.status = $2
ORDER BY c.created_at ASC, c.seq ASC`, deviceID, commands.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

// MarkOutcome applies a terminal status if and only if the command is still
// pending. The conditional UPDATE makes the pending check and the transition
// a single atomic step; the return value reports whether this call won.
func (r *CommandRepository) MarkOutcome(ctx context.Context, id, status string, executedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE device_commands
SET status = $1, executed_at = $2
WHERE id = $3 AND status = $4`,
		status, executedAt, id, commands.StatusPending)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListHistory returns recent commands for the device, newest first.
func (r *CommandRepository) ListHistory(ctx context.Context, deviceID string, limit int) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT c.id, d.device_id, c.command_type, c.command_value, c.status, c.created_at, c.executed_at
FROM device_commands c
JOIN devices d ON d.id = c.device_key
WHERE d.device_id = $1
ORDER BY c.created_at DESC, c.seq DESC
LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCommands(rows)
}

// DeleteByDevice removes all commands for a device regardless of state.
func (r *CommandRepository) DeleteByDevice(ctx context.Context, deviceID string) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM device_commands
WHERE device_key IN (SELECT id FROM devices WHERE device_id = $1)`, deviceID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*commands.Command, error) {
	var cmd commands.Command
	var executedAt sql.NullTime
	err := row.Scan(&cmd.ID, &cmd.DeviceID, &cmd.Type, &cmd.Value, &cmd.Status, &cmd.CreatedAt, &executedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if executedAt.Valid {
		cmd.ExecutedAt = executedAt.Time
	}
	return &cmd, nil
}

func scanCommands(rows *sql.Rows) ([]commands.Command, error) {
	var list []commands.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *cmd)
	}
	return list, rows.Err()
}
