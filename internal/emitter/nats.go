package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"go.pulsegate.dev/internal/event"
)

// BridgeConfig configures the NATS event bridge
type BridgeConfig struct {
	// URL is the NATS server URL
	URL string

	// SubjectPrefix is prepended to published subjects
	SubjectPrefix string
}

// DefaultBridgeConfig returns sensible defaults
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "pulsegate.events",
	}
}

// Bridge republishes realtime events to NATS for out-of-process consumers.
// Events go to "<prefix>.<workspaceId>.<type>". Publishing is best-effort:
// a failed publish is logged and never propagated to the emitting caller,
// matching the in-process subscriber isolation contract.
type Bridge struct {
	config *BridgeConfig
	conn   *nats.Conn
	sub    *Subscription
}

// NewBridge creates a NATS bridge
func NewBridge(config *BridgeConfig) *Bridge {
	if config == nil {
		config = DefaultBridgeConfig()
	}
	return &Bridge{config: config}
}

// Start connects to NATS and attaches the bridge to the emitter
func (b *Bridge) Start(e *Emitter) error {
	conn, err := nats.Connect(b.config.URL,
		nats.Name("pulsegate-event-bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS bridge disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS bridge reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	b.conn = conn

	b.sub = e.Subscribe(Wildcard, b.publish)

	slog.Info("NATS event bridge started",
		"url", b.config.URL,
		"subjectPrefix", b.config.SubjectPrefix)
	return nil
}

// publish republishes one event to NATS
func (b *Bridge) publish(ctx context.Context, ev *event.RealtimeEvent) {
	payload, err := ev.MarshalPayload()
	if err != nil {
		slog.Error("Failed to marshal event for NATS bridge",
			"eventId", ev.ID,
			"error", err)
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", b.config.SubjectPrefix, ev.WorkspaceID, ev.Type)
	if err := b.conn.Publish(subject, payload); err != nil {
		slog.Error("Failed to publish event to NATS",
			"subject", subject,
			"eventId", ev.ID,
			"error", err)
	}
}

// IsConnected reports whether the NATS connection is up
func (b *Bridge) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Stop detaches from the emitter and drains the connection
func (b *Bridge) Stop() {
	if b.sub != nil {
		b.sub.Unsubscribe()
	}
	if b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			slog.Warn("NATS bridge drain failed", "error", err)
		}
	}
	slog.Info("NATS event bridge stopped")
}
