/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries events between instances over Redis pub/sub or
// NATS. Local subscribers always go through an in-process bus; remote
// transports only bridge events published by other nodes into it.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/benchbook/internal/events"
)

// wireMessage is the envelope published to the remote transport.
type wireMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("event message without type")
	}
	return &msg, nil
}

// bridge republishes a remote message on the local bus unless it came from this node.
func bridge(local *events.Bus, nodeID string, data []byte) (bool, error) {
	msg, err := unmarshalMessage(data)
	if err != nil {
		return false, err
	}
	if msg.NodeID == nodeID {
		return false, nil
	}
	local.Publish(msg.EventType, msg.Payload)
	return true, nil
}

// NodeID returns a node identifier, preferring the configured instance id.
func NodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	return "node-" + uuid.NewString()[:8]
}
