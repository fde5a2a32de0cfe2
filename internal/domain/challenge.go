package domain

import "time"

// Challenge difficulty levels. Timeouts grow with difficulty so harder
// phrases get more speaking time.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// ChallengeTimeout returns the validity window for a challenge of the given
// difficulty. Unknown difficulties get the medium window.
func ChallengeTimeout(difficulty string) time.Duration {
	switch difficulty {
	case DifficultyEasy:
		return 2 * time.Minute
	case DifficultyHard:
		return 5 * time.Minute
	default:
		return 3 * time.Minute
	}
}

// Challenge is a single-use, time-boxed binding of a user to a phrase.
// UsedAt is set at most once via a conditional update and never cleared.
// PK: challenge_id. TTL attribute: ttl (Unix seconds).
type Challenge struct {
	ChallengeID string     `json:"id" dynamodbav:"challenge_id"`
	UserID      string     `json:"user_id" dynamodbav:"user_id"`
	PhraseID    string     `json:"phrase_id" dynamodbav:"phrase_id"`
	PhraseText  string     `json:"phrase_text" dynamodbav:"phrase_text"`
	Difficulty  string     `json:"difficulty" dynamodbav:"difficulty"`
	CreatedAt   time.Time  `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at" dynamodbav:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty" dynamodbav:"used_at,omitempty"`
	TTL         int64      `json:"-" dynamodbav:"ttl"`
}

func (c *Challenge) Used() bool { return c.UsedAt != nil }

func (c *Challenge) Expired(now time.Time) bool { return now.After(c.ExpiresAt) }

// ChallengeCheck is the typed outcome of a strict validation pass. A failed
// check is an expected negative, not an error.
type ChallengeCheck struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Challenge *Challenge `json:"-"`
}

// Reasons reported by strict challenge validation, ordered by check priority:
// existence, ownership, consumption, staleness.
const (
	CheckNotFound   = "not found"
	CheckWrongOwner = "wrong owner"
	CheckUsed       = "already used"
	CheckExpired    = "expired"
)
