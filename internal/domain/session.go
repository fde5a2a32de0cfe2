package domain

import "time"

// Verification phases.
const (
	PhaseSingle = "single"
	PhaseMulti  = "multi"
)

// MultiPhraseRounds is the fixed round count of a multi-phrase session.
const MultiPhraseRounds = 3

// VerificationSession is the ephemeral state of one verification flow.
// It is keyed by an opaque id, mutated once per round through a conditional
// round-claim update, and deleted on the terminal decision. ExpiresAt is
// bound to the latest expiry among the session's challenges plus a short
// grace window; the TTL attribute reclaims abandoned sessions.
type VerificationSession struct {
	SessionID    string        `json:"id" dynamodbav:"session_id"`
	UserID       string        `json:"user_id" dynamodbav:"user_id"`
	Phase        string        `json:"phase" dynamodbav:"phase"` // "single" | "multi"
	PolicyName   string        `json:"policy" dynamodbav:"policy_name"`
	ChallengeIDs []string      `json:"challenge_ids" dynamodbav:"challenge_ids"`
	CurrentRound int           `json:"current_round" dynamodbav:"current_round"` // next round to play, 1-based
	Rounds       []RoundResult `json:"rounds" dynamodbav:"rounds"`
	CreatedAt    time.Time     `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at" dynamodbav:"expires_at"`
	TTL          int64         `json:"-" dynamodbav:"ttl"`
}

func (s *VerificationSession) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// EnrollmentSession collects reference samples for a voiceprint. Embeddings
// are kept inline; raw audio lives in object storage under SampleKeys.
type EnrollmentSession struct {
	SessionID        string      `json:"id" dynamodbav:"session_id"`
	UserID           string      `json:"user_id" dynamodbav:"user_id"`
	ChallengeIDs     []string    `json:"challenge_ids" dynamodbav:"challenge_ids"`
	SamplesCollected int         `json:"samples_collected" dynamodbav:"samples_collected"`
	NextIndex        int         `json:"next_index" dynamodbav:"next_index"` // 0-based index into ChallengeIDs
	Embeddings       [][]float64 `json:"-" dynamodbav:"embeddings"`
	SampleKeys       []string    `json:"-" dynamodbav:"sample_keys"`
	CreatedAt        time.Time   `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt        time.Time   `json:"expires_at" dynamodbav:"expires_at"`
	TTL              int64       `json:"-" dynamodbav:"ttl"`
}

func (s *EnrollmentSession) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }
