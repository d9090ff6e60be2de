/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationReminder  EventType = "reservation.reminder"

	EventLabCreated        EventType = "lab.created"
	EventLabJoined         EventType = "lab.joined"
	EventInventoryUpdated  EventType = "inventory.updated"
	EventTemplateCreated   EventType = "template.created"
	EventTemplateShared    EventType = "template.shared"
	EventIntegrityRepaired EventType = "integrity.repaired"
)

// All lists every event type, in the order the event stream advertises them.
var All = []EventType{
	EventReservationCreated,
	EventReservationCancelled,
	EventReservationReminder,
	EventLabCreated,
	EventLabJoined,
	EventInventoryUpdated,
	EventTemplateCreated,
	EventTemplateShared,
	EventIntegrityRepaired,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is anything events can be published to.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is a publisher with local subscriptions.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather than block.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(EventType, Payload) {}
