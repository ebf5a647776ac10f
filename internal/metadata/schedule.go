package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Vertexcore-AI/IoT/internal/farm"
)

const settingsRowID = 1

// LoadSlots returns the stored watering slots ordered by hour.
func (r *Repository) LoadSlots(ctx context.Context) ([]farm.Slot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT hour, volume, status, condition_text FROM schedule_slots ORDER BY hour`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []farm.Slot
	for rows.Next() {
		var s farm.Slot
		if err := rows.Scan(&s.Hour, &s.Volume, &s.Status, &s.Condition); err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

// SaveSlots replaces the stored plan with slots.
func (r *Repository) SaveSlots(ctx context.Context, slots []farm.Slot) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save slots: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM schedule_slots`); err != nil {
		return fmt.Errorf("clear slots: %w", err)
	}
	const stmt = `INSERT INTO schedule_slots (hour, volume, status, condition_text) VALUES (?, ?, ?, ?)`
	for _, s := range slots {
		if _, err = tx.ExecContext(ctx, stmt, s.Hour, s.Volume, s.Status, s.Condition); err != nil {
			return fmt.Errorf("insert slot %d: %w", s.Hour, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit slots: %w", err)
	}
	return nil
}

// LoadSettings returns the stored schedule settings; ok is false when none were saved.
func (r *Repository) LoadSettings(ctx context.Context) (farm.Settings, bool, error) {
	const query = `SELECT auto_mode, growth_stage, profile, min_volume, max_volume FROM schedule_settings WHERE id = ?`
	var s farm.Settings
	err := r.db.QueryRowContext(ctx, query, settingsRowID).Scan(&s.AutoMode, &s.GrowthStage, &s.Profile, &s.MinVolume, &s.MaxVolume)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return farm.Settings{}, false, nil
		}
		return farm.Settings{}, false, err
	}
	return s, true, nil
}

// SaveSettings upserts the schedule settings.
func (r *Repository) SaveSettings(ctx context.Context, s farm.Settings) error {
	const stmt = `INSERT INTO schedule_settings (id, auto_mode, growth_stage, profile, min_volume, max_volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE auto_mode = VALUES(auto_mode), growth_stage = VALUES(growth_stage),
			profile = VALUES(profile), min_volume = VALUES(min_volume), max_volume = VALUES(max_volume)`
	if _, err := r.db.ExecContext(ctx, stmt, settingsRowID, s.AutoMode, s.GrowthStage, s.Profile, s.MinVolume, s.MaxVolume); err != nil {
		return fmt.Errorf("save schedule settings: %w", err)
	}
	return nil
}
