/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

const natsSubjectPrefix = "benchbook.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "benchbook",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus bridges events between nodes over core NATS subjects.
// If the server cannot be reached at startup it behaves as a local bus.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
}

// NewNATSBus connects to NATS. Falls back to in-memory delivery if NATS is unavailable.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		local:  events.NewBus(),
		logger: logger.With().Str("component", "eventbus").Str("backend", "nats").Logger(),
		nodeID: nodeID,
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-memory fallback")
		return nb, nil
	}
	nb.conn = conn

	sub, err := conn.Subscribe(natsSubjectPrefix+">", nb.handle)
	if err != nil {
		conn.Close()
		nb.conn = nil
		nb.logger.Warn().Err(err).Msg("NATS subscribe failed, using in-memory fallback")
		return nb, nil
	}
	nb.sub = sub

	nb.logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nodeID).Msg("NATS event bus initialized")
	return nb, nil
}

func (nb *NATSBus) handle(msg *nats.Msg) {
	if _, err := bridge(nb.local, nb.nodeID, msg.Data); err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode NATS event")
	}
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and to other nodes when connected.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		telemetry.EventBusPublishTotal.WithLabelValues("nats", "fallback").Inc()
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
		telemetry.EventBusPublishTotal.WithLabelValues("nats", "error").Inc()
		return
	}
	telemetry.EventBusPublishTotal.WithLabelValues("nats", "ok").Inc()
}

// Fallback reports whether the bus is running local-only.
func (nb *NATSBus) Fallback() bool {
	return nb.conn == nil
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}
	nb.logger.Info().Msg("closing NATS event bus")
	return nb.conn.Drain()
}
