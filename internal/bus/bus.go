// ============================================================================
// Bin-Workflow Bus Interface
// ============================================================================
//
// Package: internal/bus
// File: bus.go
// Purpose: Defines the publish/subscribe boundary between the orchestrator
// and the message broker.
//
// Motivation:
//   The orchestrator owns no transport details. Everything it sends or
//   receives goes through this interface, so the same core runs against a
//   real MQTT broker (mqtt.go) or the in-process broker used by tests and
//   the demo binary (memory.go).
//
// Delivery contract:
//   - Handlers for one client are invoked serially, one message at a time,
//     on a goroutine owned by the transport. They must not block forever.
//   - Delivery is at-least-once; duplication and reordering across topics
//     are possible. The router defends with correlation-id filtering.
//
// ============================================================================

package bus

import "strings"

// Handler processes one inbound message.
type Handler func(topic string, payload []byte)

// Client is the minimal pub/sub surface the orchestrator needs.
type Client interface {
	// Connect establishes the broker session. Must be called before
	// Subscribe or Publish.
	Connect() error

	// Subscribe registers a handler for a topic filter. MQTT wildcards
	// ("+" single level, "#" multi level) are supported.
	Subscribe(filter string, h Handler) error

	// Publish sends a payload to a topic. Fire-and-forget: implementations
	// must not block on delivery confirmation.
	Publish(topic string, payload []byte) error

	// Close tears down the session. Publish after Close is a no-op error.
	Close()
}

// TopicMatch reports whether an MQTT topic filter matches a concrete topic.
// "+" matches exactly one level, "#" matches the remainder (must be last).
func TopicMatch(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
