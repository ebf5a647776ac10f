package mqtt

import (
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultAddr        = ":1883"
	defaultTopicPrefix = "agrisense"
)

// Config configures the embedded broker.
type Config struct {
	Enabled     bool
	Addr        string
	TopicPrefix string
}

// FromEnv reads MQTT_ENABLED, MQTT_ADDR and MQTT_TOPIC_PREFIX.
func FromEnv() Config {
	cfg := Config{
		Enabled:     true,
		Addr:        strings.TrimSpace(os.Getenv("MQTT_ADDR")),
		TopicPrefix: strings.Trim(strings.TrimSpace(os.Getenv("MQTT_TOPIC_PREFIX")), "/"),
	}
	if raw := strings.TrimSpace(os.Getenv("MQTT_ENABLED")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			zap.L().Warn("invalid MQTT_ENABLED, broker stays enabled", zap.String("value", raw))
		} else {
			cfg.Enabled = v
		}
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	return cfg
}
