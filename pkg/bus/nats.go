package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubject is the well-known fan-out subject for plugin events.
const DefaultSubject = "grimalkin.plugin.events"

// NATSBus fans plugin events out over a NATS subject. Every replica
// subscribes with its own plain (non-queue) subscription so all of
// them receive every event.
type NATSBus struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NATSConfig configures the connection to the broker.
type NATSConfig struct {
	URL     string
	Subject string
	Logger  zerolog.Logger
}

// NewNATSBus connects to the broker. Reconnects are left to the NATS
// client; while disconnected, publishes fail and are logged by the
// caller rather than retried.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	return &NATSBus{
		conn:    conn,
		subject: subject,
		logger:  cfg.Logger.With().Str("component", "sync-bus").Logger(),
	}, nil
}

func (b *NATSBus) Publish(ctx context.Context, evt Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode sync event: %w", err)
	}

	if err := b.conn.Publish(b.subject, raw); err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}

	b.logger.Debug().
		Str("type", evt.Type).
		Str("plugin", evt.Payload.PluginID).
		Msg("Published sync event")
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn().Err(err).Msg("Dropping malformed sync event")
			return
		}
		handler(evt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	cancel := func() {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to unsubscribe from sync events")
		}
	}

	// Stop delivery when the caller's context ends.
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return cancel, nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
