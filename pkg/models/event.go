package models

import (
	"encoding/json"
	"time"
)

// MessageEnvelope is the wire format for every Kafka message the service
// produces or consumes. Payload is decoded per EventType.
type MessageEnvelope struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID string `json:"trace_id,omitempty"`
	UserID  int64  `json:"user_id,omitempty"`
	DLQ     *DLQInfo `json:"dlq,omitempty"`
}

type DLQInfo struct {
	Reason      string    `json:"reason"`
	SourceTopic string    `json:"source_topic"`
	FailedAt    time.Time `json:"failed_at"`
}

const (
	EventTypeTransactionCreated = "transaction_created"
	EventTypeTransactionUpdated = "transaction_updated"
	EventTypeRuleChanged        = "rule_changed"
	EventTypeRuleNotification   = "rule_notification"
)

type TransactionEvent struct {
	EventType   string       `json:"event_type"`
	UserID      int64        `json:"user_id"`
	Transaction *Transaction `json:"transaction"`
	Timestamp   time.Time    `json:"timestamp"`
}

type RuleChangeEvent struct {
	Action    string    `json:"action"` // "create", "update", "delete", "toggle"
	RuleID    int64     `json:"rule_id,omitempty"`
	GroupID   int64     `json:"group_id,omitempty"`
	UserID    int64     `json:"user_id"`
	Version   int       `json:"version,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionToggle = "toggle"
)

// NotificationEvent is emitted by the send_notification rule action.
type NotificationEvent struct {
	UserID        int64     `json:"user_id"`
	RuleID        int64     `json:"rule_id"`
	RuleName      string    `json:"rule_name"`
	TransactionID int64     `json:"transaction_id"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewEnvelope(id, source, eventType string, payload interface{}) (MessageEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return MessageEnvelope{}, err
	}
	return MessageEnvelope{
		ID:        id,
		Source:    source,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}, nil
}
