package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultSessionTTL = 12 * time.Hour
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes and newer versions reject it
	maxPasswordBytes = 72
)

// Service registers users and manages their sessions.
type Service struct {
	users    UserStore
	sessions SessionStore
	ttl      time.Duration
	hashCost int
	now      func() time.Time
	logger   *zap.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithTTL sets the session lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithHashCost sets the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.hashCost = cost
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the user and session stores.
func NewService(users UserStore, sessions SessionStore, opts ...Option) *Service {
	s := &Service{
		users:    users,
		sessions: sessions,
		ttl:      defaultSessionTTL,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL is the session lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, ErrNameRequired
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < minPasswordLength {
		return User{}, ErrPasswordTooShort
	}
	if len(in.Password) > maxPasswordBytes {
		return User{}, ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.CreateUser(ctx, User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user registered", zap.Int64("user", u.ID))
	return u, nil
}

// Login checks credentials and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (Session, User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, User{}, ErrInvalidCredentials
	}
	u, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, User{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, User{}, ErrInvalidCredentials
	}
	sess, err := s.Open(ctx, u.ID)
	if err != nil {
		return Session{}, User{}, err
	}
	return sess, u, nil
}

// Open starts a session for userID.
func (s *Service) Open(ctx context.Context, userID int64) (Session, error) {
	now := s.now().UTC()
	sess := Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// Logout ends the session identified by token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.DeleteSession(ctx, token)
}

// Resolve returns the user owning token.
func (s *Service) Resolve(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrSessionNotFound
	}
	sess, err := s.sessions.SessionByToken(ctx, token)
	if err != nil {
		return User{}, err
	}
	if sess.Expired(s.now()) {
		if err := s.sessions.DeleteSession(ctx, token); err != nil {
			s.logger.Warn("delete expired session failed", zap.Error(err))
		}
		return User{}, ErrSessionExpired
	}
	return s.users.UserByID(ctx, sess.UserID)
}

// ProfileInput carries the profile form.
type ProfileInput struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// UpdateProfile changes name and email of user id.
func (s *Service) UpdateProfile(ctx context.Context, id int64, in ProfileInput) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, ErrNameRequired
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	u, err := s.users.UserByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	u.Name = name
	u.Email = email
	return s.users.UpdateUser(ctx, u)
}

// PurgeExpired removes stale sessions.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessions.PurgeExpiredSessions(ctx, s.now())
}

// Start purges expired sessions every interval until ctx ends.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeExpired(ctx)
				if err != nil {
					s.logger.Warn("purge sessions failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Debug("expired sessions purged", zap.Int64("count", n))
				}
			}
		}
	}()
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
