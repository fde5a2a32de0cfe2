package domain

import (
	"errors"
	"time"
)

// AuthAttemptResult is the immutable terminal record of one authentication
// attempt. Instances are only produced by ResultBuilder.Build, which hands
// out a deep copy so later builder reuse cannot alias a built result.
type AuthAttemptResult struct {
	AttemptID      string             `json:"id" dynamodbav:"attempt_id"`
	UserID         string             `json:"user_id" dynamodbav:"user_id"`
	ClientID       string             `json:"client_id,omitempty" dynamodbav:"client_id,omitempty"`
	ChallengeID    string             `json:"challenge_id,omitempty" dynamodbav:"challenge_id,omitempty"`
	Decided        bool               `json:"decided" dynamodbav:"decided"`
	Accept         bool               `json:"accept" dynamodbav:"accept"`
	Reason         string             `json:"reason" dynamodbav:"reason"`
	Scores         map[string]float64 `json:"scores,omitempty" dynamodbav:"scores,omitempty"`
	PolicyName     string             `json:"policy" dynamodbav:"policy_name"`
	TotalLatencyMS int64              `json:"total_latency_ms" dynamodbav:"total_latency_ms"`
	CreatedAt      time.Time          `json:"created" dynamodbav:"created_at"`
	DecidedAt      time.Time          `json:"decided_at" dynamodbav:"decided_at"`
}

// ResultBuilder accumulates attempt fields via chained setters and produces
// a frozen AuthAttemptResult. Build fails while the attempt is undecided or
// the reason is missing.
type ResultBuilder struct {
	r AuthAttemptResult
}

func NewResultBuilder(attemptID, userID string) *ResultBuilder {
	b := &ResultBuilder{}
	b.r.AttemptID = attemptID
	b.r.UserID = userID
	b.r.CreatedAt = time.Now().UTC()
	return b
}

func (b *ResultBuilder) WithClient(clientID string) *ResultBuilder {
	b.r.ClientID = clientID
	return b
}

func (b *ResultBuilder) WithChallenge(challengeID string) *ResultBuilder {
	b.r.ChallengeID = challengeID
	return b
}

func (b *ResultBuilder) WithPolicy(name string) *ResultBuilder {
	b.r.PolicyName = name
	return b
}

func (b *ResultBuilder) WithScore(name string, value float64) *ResultBuilder {
	if b.r.Scores == nil {
		b.r.Scores = make(map[string]float64)
	}
	b.r.Scores[name] = value
	return b
}

func (b *ResultBuilder) WithLatency(ms int64) *ResultBuilder {
	b.r.TotalLatencyMS = ms
	return b
}

// AcceptWithReason marks the attempt decided and accepted.
func (b *ResultBuilder) AcceptWithReason(reason string) *ResultBuilder {
	b.r.Decided = true
	b.r.Accept = true
	b.r.Reason = reason
	b.r.DecidedAt = time.Now().UTC()
	return b
}

// RejectWithReason marks the attempt decided and rejected.
func (b *ResultBuilder) RejectWithReason(reason string) *ResultBuilder {
	b.r.Decided = true
	b.r.Accept = false
	b.r.Reason = reason
	b.r.DecidedAt = time.Now().UTC()
	return b
}

// Build returns a deep copy of the accumulated result. It fails while the
// attempt is undecided or has no reason.
func (b *ResultBuilder) Build() (*AuthAttemptResult, error) {
	if !b.r.Decided {
		return nil, errors.New("result not decided")
	}
	if b.r.Reason == "" {
		return nil, errors.New("result missing reason")
	}
	out := b.r
	if b.r.Scores != nil {
		out.Scores = make(map[string]float64, len(b.r.Scores))
		for k, v := range b.r.Scores {
			out.Scores[k] = v
		}
	}
	return &out, nil
}

// Reset clears the builder for reuse, keeping attempt and user identity.
func (b *ResultBuilder) Reset() *ResultBuilder {
	b.r = AuthAttemptResult{
		AttemptID: b.r.AttemptID,
		UserID:    b.r.UserID,
		CreatedAt: time.Now().UTC(),
	}
	return b
}
