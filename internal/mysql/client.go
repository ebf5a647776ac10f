package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	sqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// ErrNotConfigured means no MYSQL_* variables are set.
var ErrNotConfigured = errors.New("mysql not configured")

// Config maps connection settings for the MySQL instance.
type Config struct {
	DSN             string
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	Params          string
	TLSCAPath       string
	TLSConfigName   string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	ConnectAttempts uint
	RetryDelay      time.Duration
}

// FromEnv constructs Config from environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		DSN:             strings.TrimSpace(os.Getenv("MYSQL_DSN")),
		Host:            os.Getenv("MYSQL_HOST"),
		Port:            defaultString(os.Getenv("MYSQL_PORT"), "3306"),
		User:            os.Getenv("MYSQL_USER"),
		Password:        os.Getenv("MYSQL_PASSWORD"),
		Database:        os.Getenv("MYSQL_DATABASE"),
		Params:          os.Getenv("MYSQL_PARAMS"),
		TLSCAPath:       os.Getenv("MYSQL_TLS_CA"),
		TLSConfigName:   defaultString(os.Getenv("MYSQL_TLS_CONFIG"), "agrisense"),
		MaxOpenConns:    parseInt(os.Getenv("MYSQL_MAX_OPEN_CONNS"), 10),
		MaxIdleConns:    parseInt(os.Getenv("MYSQL_MAX_IDLE_CONNS"), 5),
		ConnMaxLifetime: parseDuration(os.Getenv("MYSQL_CONN_MAX_LIFETIME"), 30*time.Minute),
		PingTimeout:     parseDuration(os.Getenv("MYSQL_PING_TIMEOUT"), 5*time.Second),
		ConnectAttempts: uint(parseInt(os.Getenv("MYSQL_CONNECT_ATTEMPTS"), 5)),
		RetryDelay:      parseDuration(os.Getenv("MYSQL_RETRY_DELAY"), 2*time.Second),
	}

	if cfg.DSN == "" && cfg.Host == "" && cfg.User == "" && cfg.Database == "" {
		return Config{}, ErrNotConfigured
	}

	if strings.HasPrefix(strings.ToLower(cfg.DSN), "mysql://") {
		if err := cfg.applyURLDSN(cfg.DSN); err != nil {
			return Config{}, fmt.Errorf("parse MYSQL_DSN: %w", err)
		}
		cfg.DSN = ""
	}

	if cfg.DSN == "" {
		if cfg.Host == "" || cfg.User == "" || cfg.Password == "" || cfg.Database == "" {
			return Config{}, errors.New("incomplete MySQL configuration: provide MYSQL_DSN or MYSQL_HOST, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE")
		}
	}

	return cfg, nil
}

// New opens a pooled MySQL connection and pings it until it answers or
// the connect attempts run out.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn, err := cfg.effectiveDSN()
	if err != nil {
		return nil, err
	}

	if cfg.TLSCAPath != "" {
		if err := registerTLSConfig(cfg.TLSConfigName, cfg.TLSCAPath); err != nil {
			return nil, fmt.Errorf("register TLS config: %w", err)
		}
		dsn = withTLSParam(dsn, cfg.TLSConfigName)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("mysql not ready, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return db, nil
}

func withTLSParam(dsn, name string) string {
	if strings.Contains(dsn, "tls=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&tls=" + name
	}
	return dsn + "?tls=" + name
}

func (cfg Config) effectiveDSN() (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	params := cfg.Params
	if params == "" {
		params = "parseTime=true&loc=UTC"
	} else if !strings.Contains(params, "parseTime=") {
		params = "parseTime=true&loc=UTC&" + strings.TrimPrefix(params, "?")
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
		strings.TrimPrefix(params, "?"),
	), nil
}

func registerTLSConfig(name, caPath string) error {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(pem); !ok {
		return errors.New("failed to append CA certificate")
	}
	return sqldriver.RegisterTLSConfig(name, &tls.Config{RootCAs: pool})
}

func (cfg *Config) applyURLDSN(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.User != nil {
		cfg.User = parsed.User.Username()
		if password, ok := parsed.User.Password(); ok {
			cfg.Password = password
		}
	}
	if host := parsed.Hostname(); host != "" {
		cfg.Host = host
	}
	if port := parsed.Port(); port != "" {
		cfg.Port = port
	}
	if db := strings.TrimPrefix(parsed.Path, "/"); db != "" {
		cfg.Database = db
	}

	query := parsed.Query()
	query.Del("ssl-mode")
	urlParams := query.Encode()

	existing := strings.TrimPrefix(cfg.Params, "?")
	switch {
	case existing != "" && urlParams != "":
		cfg.Params = existing + "&" + urlParams
	case urlParams != "":
		cfg.Params = urlParams
	default:
		cfg.Params = existing
	}

	return nil
}

func defaultString(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		zap.L().Warn("invalid integer, using default", zap.String("value", raw), zap.Int("default", fallback), zap.Error(err))
		return fallback
	}
	return v
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		zap.L().Warn("invalid duration, using default", zap.String("value", raw), zap.Duration("default", fallback), zap.Error(err))
		return fallback
	}
	return dur
}
