package domain

import "time"

// Voiceprint is the stored reference embedding for an enrolled user.
// PK: user_id. Overwrites archive the prior record to history first.
type Voiceprint struct {
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	Embedding   []float64 `json:"-" dynamodbav:"embedding"`
	Quality     float64   `json:"quality" dynamodbav:"quality"`
	SampleCount int       `json:"sample_count" dynamodbav:"sample_count"`
	CreatedAt   time.Time `json:"created" dynamodbav:"created_at"`
	UpdatedAt   time.Time `json:"updated" dynamodbav:"updated_at"`
}

// VoiceprintRecord is an archived voiceprint.
// PK: user_id, SK: archived_at (RFC3339Nano).
type VoiceprintRecord struct {
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	ArchivedAt  string    `json:"archived_at" dynamodbav:"archived_at"`
	Embedding   []float64 `json:"-" dynamodbav:"embedding"`
	Quality     float64   `json:"quality" dynamodbav:"quality"`
	SampleCount int       `json:"sample_count" dynamodbav:"sample_count"`
}
