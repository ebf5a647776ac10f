// Package mqtt runs an embedded MQTT broker that feeds device publishes into
// the telemetry ingestor.
package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	"github.com/Vertexcore-AI/IoT/internal/telemetry"
)

// Source tags readings that arrived over MQTT.
const Source = "mqtt"

// Ingester accepts decoded readings.
type Ingester interface {
	IngestBatch(ctx context.Context, rs []telemetry.Reading) (telemetry.BatchResult, error)
}

// IngestHook decodes telemetry publishes and hands them to the ingestor.
// Bad topics and payloads are logged and dropped; the client stays connected.
type IngestHook struct {
	mqtt.HookBase

	prefix string
	ingest Ingester
	logger *zap.Logger
	ctx    atomic.Pointer[context.Context]

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// NewIngestHook builds the publish hook for topics under prefix.
func NewIngestHook(prefix string, ingest Ingester, logger *zap.Logger) *IngestHook {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &IngestHook{prefix: prefix, ingest: ingest, logger: logger}
	ctx := context.Background()
	h.ctx.Store(&ctx)
	return h
}

// ID names the hook.
func (h *IngestHook) ID() string {
	return "agrisense-ingest"
}

// Provides indicates which hook methods this hook provides.
func (h *IngestHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnPublish,
	}, []byte{b})
}

// OnConnect logs device connections.
func (h *IngestHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.logger.Debug("mqtt client connected", zap.String("client", cl.ID))
	return nil
}

// OnPublish ingests telemetry publishes. Other topics pass through untouched.
func (h *IngestHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	sensorID, err := ParseTopic(h.prefix, pk.TopicName)
	if err != nil {
		h.logger.Debug("ignoring publish", zap.String("topic", pk.TopicName))
		return pk, nil
	}
	readings, err := DecodePayload(sensorID, pk.Payload)
	if err != nil {
		h.dropped.Add(1)
		h.logger.Warn("dropping mqtt payload", zap.String("client", cl.ID), zap.String("topic", pk.TopicName), zap.Error(err))
		return pk, nil
	}

	res, err := h.ingest.IngestBatch(*h.ctx.Load(), readings)
	if err != nil {
		h.dropped.Add(uint64(len(readings)))
		h.logger.Warn("mqtt ingest failed", zap.String("sensor", sensorID), zap.Error(err))
		return pk, nil
	}
	h.accepted.Add(uint64(res.Accepted))
	if len(res.Rejected) > 0 {
		h.dropped.Add(uint64(len(res.Rejected)))
		h.logger.Warn("mqtt readings rejected",
			zap.String("sensor", sensorID),
			zap.Int("rejected", len(res.Rejected)),
			zap.String("first", res.Rejected[0].Error))
	}
	return pk, nil
}

// Counts returns readings accepted and dropped so far.
func (h *IngestHook) Counts() (accepted, dropped uint64) {
	return h.accepted.Load(), h.dropped.Load()
}

func (h *IngestHook) bind(ctx context.Context) {
	h.ctx.Store(&ctx)
}

// Broker is the embedded MQTT server.
type Broker struct {
	cfg    Config
	server *mqtt.Server
	hook   *IngestHook
	logger *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// New assembles a broker with allow-all auth, the ingest hook and a TCP listener.
// The listener is bound here; call Close if Run is never reached.
func New(cfg Config, ingest Ingester, logger *zap.Logger) (*Broker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       brokerLogger(logger),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("add auth hook: %w", err)
	}
	hook := NewIngestHook(cfg.TopicPrefix, ingest, logger)
	if err := server.AddHook(hook, nil); err != nil {
		return nil, fmt.Errorf("add ingest hook: %w", err)
	}
	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: cfg.Addr})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("add tcp listener: %w", err)
	}
	return &Broker{cfg: cfg, server: server, hook: hook, logger: logger}, nil
}

// brokerLogger routes the broker's own slog output into zap at warn and above.
func brokerLogger(logger *zap.Logger) *slog.Logger {
	core := logger.Core()
	if warnCore, err := zapcore.NewIncreaseLevelCore(core, zapcore.WarnLevel); err == nil {
		core = warnCore
	}
	return slog.New(zapslog.NewHandler(core, zapslog.WithName("mochi")))
}

// Hook exposes the ingest hook.
func (b *Broker) Hook() *IngestHook {
	return b.hook
}

// TopicPrefix is the root of every topic the broker serves.
func (b *Broker) TopicPrefix() string {
	return b.cfg.TopicPrefix
}

// Publish injects a message as the broker's inline client.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.server.Publish(topic, payload, false, 0)
}

// Run serves until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	b.hook.bind(ctx)
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("serve mqtt: %w", err)
	}
	b.logger.Info("mqtt broker listening", zap.String("addr", b.cfg.Addr), zap.String("topic", Topic(b.cfg.TopicPrefix, "+")))

	<-ctx.Done()
	b.logger.Info("mqtt broker shutting down")
	return b.Close()
}

// Close releases the listener bound by New. Safe to call more than once.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		if err := b.server.Close(); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close mqtt: %w", err)
		}
	})
	return b.closeErr
}
