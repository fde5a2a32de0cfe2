package domain

import "time"

// AuditEvent is one immutable entry in the audit trail. Metadata never
// carries raw biometric data — scores, lengths and reasons only.
type AuditEvent struct {
	EventID    string            `json:"id" dynamodbav:"event_id"`
	Actor      string            `json:"actor" dynamodbav:"actor"`
	Action     string            `json:"action" dynamodbav:"action"`
	EntityType string            `json:"entity_type" dynamodbav:"entity_type"`
	EntityID   string            `json:"entity_id" dynamodbav:"entity_id"`
	Success    bool              `json:"success" dynamodbav:"success"`
	Metadata   map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created" dynamodbav:"created_at"`
}
