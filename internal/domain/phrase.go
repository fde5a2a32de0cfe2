package domain

import "time"

// Phrase is a candidate challenge text. PK: phrase_id.
type Phrase struct {
	PhraseID   string    `json:"id" dynamodbav:"phrase_id"`
	Text       string    `json:"text" dynamodbav:"text"`
	Difficulty string    `json:"difficulty" dynamodbav:"difficulty"`
	Enable     bool      `json:"enable" dynamodbav:"enable"`
	CreatedAt  time.Time `json:"created" dynamodbav:"created_at"`
}

// PhraseUsage records that a phrase was handed to a user, so recently used
// phrases can be excluded from future selections.
// PK: user_id, SK: used_at (RFC3339Nano, sortable).
type PhraseUsage struct {
	UserID   string `json:"user_id" dynamodbav:"user_id"`
	UsedAt   string `json:"used_at" dynamodbav:"used_at"`
	PhraseID string `json:"phrase_id" dynamodbav:"phrase_id"`
	Purpose  string `json:"purpose" dynamodbav:"purpose"` // "enrollment" | "verification"
	TTL      int64  `json:"-" dynamodbav:"ttl"`
}

type CreatePhraseRequest struct {
	Text       string `json:"text" validate:"required,min=3"`
	Difficulty string `json:"difficulty" validate:"required,oneof=easy medium hard"`
}
