package metadata

import (
	"context"
	"fmt"

	"github.com/Vertexcore-AI/IoT/internal/farm"
)

const defaultCommandLimit = 50

// RecordCommand appends an actuator command to the audit log.
func (r *Repository) RecordCommand(ctx context.Context, cmd farm.Command) error {
	const stmt = `INSERT INTO actuator_commands
		(id, actuator_key, actuator_id, action, from_status, to_status, value, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, stmt,
		cmd.ID, cmd.ActuatorKey, cmd.ActuatorID, cmd.Action,
		cmd.FromStatus, cmd.ToStatus, cmd.Value, cmd.Actor, cmd.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert actuator command: %w", err)
	}
	return nil
}

// RecentCommands returns the newest commands first.
func (r *Repository) RecentCommands(ctx context.Context, limit int) ([]farm.Command, error) {
	if limit <= 0 {
		limit = defaultCommandLimit
	}
	const query = `SELECT id, actuator_key, actuator_id, action, from_status, to_status, value, actor, created_at
		FROM actuator_commands ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []farm.Command
	for rows.Next() {
		var c farm.Command
		if err := rows.Scan(&c.ID, &c.ActuatorKey, &c.ActuatorID, &c.Action, &c.FromStatus, &c.ToStatus, &c.Value, &c.Actor, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
