package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAddr          = ":8080"
	defaultAppName       = "AgriSense"
	defaultAssetVersion  = "1"
	defaultSessionTTL    = 12 * time.Hour
	defaultSessionCookie = "agrisense_session"
	// a day of readings for every series at the default 3s simulation tick
	defaultStoreCapacity = 28800
	defaultStoreSeries   = 1024
)

// Config controls the HTTP surface.
type Config struct {
	Addr          string
	AppName       string
	AssetVersion  string
	IngestToken   string
	CORSOrigins   []string
	SessionTTL    time.Duration
	SessionCookie string
	SecureCookies bool
	StoreCapacity int
	StoreSeries   int
}

// FromEnv reads HTTP_ADDR, APP_NAME, ASSET_VERSION, INGEST_TOKEN,
// CORS_ORIGINS, SESSION_TTL, SESSION_COOKIE, SESSION_SECURE and
// STORE_CAPACITY and STORE_MAX_SERIES. Every variable is optional.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:          envOr("HTTP_ADDR", defaultAddr),
		AppName:       envOr("APP_NAME", defaultAppName),
		AssetVersion:  envOr("ASSET_VERSION", defaultAssetVersion),
		IngestToken:   strings.TrimSpace(os.Getenv("INGEST_TOKEN")),
		CORSOrigins:   splitOrigins(os.Getenv("CORS_ORIGINS")),
		SessionTTL:    defaultSessionTTL,
		SessionCookie: envOr("SESSION_COOKIE", defaultSessionCookie),
		StoreCapacity: defaultStoreCapacity,
		StoreSeries:   defaultStoreSeries,
	}

	if raw := strings.TrimSpace(os.Getenv("SESSION_TTL")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid SESSION_TTL %q", raw)
		}
		cfg.SessionTTL = d
	}
	if raw := strings.TrimSpace(os.Getenv("SESSION_SECURE")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SESSION_SECURE: %w", err)
		}
		cfg.SecureCookies = v
	}
	if raw := strings.TrimSpace(os.Getenv("STORE_CAPACITY")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid STORE_CAPACITY %q", raw)
		}
		cfg.StoreCapacity = n
	}
	if raw := strings.TrimSpace(os.Getenv("STORE_MAX_SERIES")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid STORE_MAX_SERIES %q", raw)
		}
		cfg.StoreSeries = n
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.AppName == "" {
		c.AppName = defaultAppName
	}
	if c.AssetVersion == "" {
		c.AssetVersion = defaultAssetVersion
	}
	if c.SessionCookie == "" {
		c.SessionCookie = defaultSessionCookie
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	return c
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func (c Config) allowAllOrigins() bool {
	for _, o := range c.CORSOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}
