package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require orgID for strict per-organization isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, orgID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, orgID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, orgID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	OrgID     string            `json:"orgId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the compliance pipeline. Downstream listeners
// (case creation, notification) subscribe to these without the engine
// depending on them directly.
const (
	TopicDisclosureSubmitted = "kestrel.disclosure.submitted"
	TopicThresholdTriggered  = "kestrel.threshold.triggered"
	TopicConflictDetected    = "kestrel.conflict.detected"
	TopicCaseRequested       = "kestrel.case.requested"
	TopicAlertDismissed      = "kestrel.alert.dismissed"
)

// ThresholdTriggeredEvent is the payload of TopicThresholdTriggered.
type ThresholdTriggeredEvent struct {
	DisclosureID string     `json:"disclosureId"`
	RuleIDs      []string   `json:"ruleIds"`
	Action       RuleAction `json:"action"`
}

// ConflictDetectedEvent is the payload of TopicConflictDetected.
type ConflictDetectedEvent struct {
	DisclosureID string   `json:"disclosureId"`
	AlertIDs     []string `json:"alertIds"`
}
