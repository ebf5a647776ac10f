package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Vertexcore-AI/IoT/internal/auth"
)

const userColumns = `id, name, email, password_hash, created_at`

// CreateUser inserts an account. A taken email yields auth.ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	const stmt = `INSERT INTO users (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, stmt, u.Name, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return auth.User{}, auth.ErrEmailTaken
		}
		return auth.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return auth.User{}, err
	}
	return r.UserByID(ctx, id)
}

// UserByEmail looks up an account by its normalised email.
func (r *Repository) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// UserByID looks up an account by id.
func (r *Repository) UserByID(ctx context.Context, id int64) (auth.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// UpdateUser stores a changed name, email or password hash.
func (r *Repository) UpdateUser(ctx context.Context, u auth.User) (auth.User, error) {
	const stmt = `UPDATE users SET name = ?, email = ?, password_hash = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, stmt, u.Name, u.Email, u.PasswordHash, u.ID); err != nil {
		if isDuplicateEntry(err) {
			return auth.User{}, auth.ErrEmailTaken
		}
		return auth.User{}, fmt.Errorf("update user: %w", err)
	}
	// MySQL reports zero affected rows when nothing changed, so existence is
	// confirmed by reading the row back.
	return r.UserByID(ctx, u.ID)
}

func (r *Repository) scanUser(row *sql.Row) (auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, auth.ErrUserNotFound
		}
		return auth.User{}, err
	}
	return u, nil
}

// SaveSession stores a session.
func (r *Repository) SaveSession(ctx context.Context, s auth.Session) error {
	const stmt = `INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE expires_at = VALUES(expires_at)`
	if _, err := r.db.ExecContext(ctx, stmt, s.Token, s.UserID, s.CreatedAt.UTC(), s.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SessionByToken loads a session.
func (r *Repository) SessionByToken(ctx context.Context, token string) (auth.Session, error) {
	const query = `SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`
	var s auth.Session
	err := r.db.QueryRowContext(ctx, query, token).Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Session{}, auth.ErrSessionNotFound
		}
		return auth.Session{}, err
	}
	return s, nil
}

// DeleteSession removes a session. Missing sessions are not an error.
func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return err
}

// PurgeExpiredSessions deletes sessions that expired before now.
func (r *Repository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
