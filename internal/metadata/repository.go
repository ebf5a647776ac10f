package metadata

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sqldriver "github.com/go-sql-driver/mysql"
)

const (
	errDuplicateEntry = 1062
)

// Repository persists non time-series metadata in MySQL: accounts,
// sessions, the actuator command log and the watering plan.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository with the provided sql.DB pool.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the required tables if they are missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token CHAR(36) PRIMARY KEY,
			user_id BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL,
			INDEX idx_sessions_user (user_id),
			INDEX idx_sessions_expires (expires_at)
		)`,
		`CREATE TABLE IF NOT EXISTS actuator_commands (
			id CHAR(36) PRIMARY KEY,
			actuator_key VARCHAR(64) NOT NULL,
			actuator_id VARCHAR(64) NOT NULL,
			action VARCHAR(64) NOT NULL,
			from_status VARCHAR(32) NOT NULL,
			to_status VARCHAR(32) NOT NULL,
			value DOUBLE NOT NULL DEFAULT 0,
			actor VARCHAR(255) NOT NULL,
			created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			INDEX idx_commands_created (created_at),
			INDEX idx_commands_actuator (actuator_key)
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_slots (
			hour TINYINT PRIMARY KEY,
			volume DOUBLE NOT NULL,
			status VARCHAR(16) NOT NULL,
			condition_text VARCHAR(255) NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_settings (
			id TINYINT PRIMARY KEY,
			auto_mode BOOLEAN NOT NULL DEFAULT TRUE,
			growth_stage VARCHAR(32) NOT NULL,
			profile VARCHAR(32) NOT NULL,
			min_volume DOUBLE NOT NULL DEFAULT 0,
			max_volume DOUBLE NOT NULL DEFAULT 300,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
	}
	for _, ddl := range tables {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	// Columns added after the first release.
	alterStatements := []string{
		`ALTER TABLE users ADD COLUMN updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP AFTER created_at`,
		`ALTER TABLE actuator_commands ADD COLUMN actor VARCHAR(255) NOT NULL DEFAULT '' AFTER value`,
	}
	for _, stmt := range alterStatements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumnError(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// Ping checks MySQL connectivity using the provided context.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func isDuplicateEntry(err error) bool {
	var myErr *sqldriver.MySQLError
	return errors.As(err, &myErr) && myErr.Number == errDuplicateEntry
}
