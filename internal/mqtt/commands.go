package mqtt

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Vertexcore-AI/IoT/internal/farm"
)

const commandSuffix = "command"

// CommandTopic is where commands for actuatorID are announced.
func CommandTopic(prefix, actuatorID string) string {
	return prefix + "/" + actuatorID + "/" + commandSuffix
}

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// CommandMirror records actuator commands in the wrapped log and announces
// them to devices over MQTT. A failed publish is logged; the command stays
// recorded.
type CommandMirror struct {
	farm.CommandLog

	prefix string
	pub    Publisher
	logger *zap.Logger
}

// NewCommandMirror wraps log so every recorded command is also published.
func NewCommandMirror(log farm.CommandLog, prefix string, pub Publisher, logger *zap.Logger) *CommandMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandMirror{CommandLog: log, prefix: prefix, pub: pub, logger: logger}
}

// RecordCommand persists cmd, then publishes it as JSON.
func (m *CommandMirror) RecordCommand(ctx context.Context, cmd farm.Command) error {
	if err := m.CommandLog.RecordCommand(ctx, cmd); err != nil {
		return err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		m.logger.Warn("encode actuator command", zap.String("command", cmd.ID), zap.Error(err))
		return nil
	}
	topic := CommandTopic(m.prefix, cmd.ActuatorID)
	if err := m.pub.Publish(topic, payload); err != nil {
		m.logger.Warn("publish actuator command failed", zap.String("topic", topic), zap.Error(err))
	}
	return nil
}
