// Package challenge issues and validates single-use, time-boxed phrase
// challenges: the ledger every verification and enrollment round draws from.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/pkg/id"
)

// Phrase exclusion window: a user should not see a phrase they spoke within
// the last 30 days, bounded at the 50 most recent.
const (
	exclusionWindow = 30 * 24 * time.Hour
	exclusionLimit  = 50
)

// challengeGCGrace is how long an expired challenge stays readable before the
// table TTL may reclaim it. Keeping it around lets validate_strict report
// "expired" instead of "not found" for a while.
const challengeGCGrace = 24 * time.Hour

type ChallengeStore interface {
	Put(ctx context.Context, c *domain.Challenge) error
	Get(ctx context.Context, challengeID string) (*domain.Challenge, error)
	MarkUsed(ctx context.Context, challengeID string, at time.Time) error
	CountActive(ctx context.Context, userID string) (int, error)
	CountRecent(ctx context.Context, userID string, since time.Time) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	DeleteUsed(ctx context.Context, before time.Time) (int, error)
}

type PhraseCatalog interface {
	FindRandom(ctx context.Context, count int, difficulty string, exclude []string) ([]domain.Phrase, error)
	RecordUsage(ctx context.Context, phraseID, userID, purpose string) error
	RecentPhraseIDs(ctx context.Context, userID string, limit int, since time.Time) ([]string, error)
}

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type AuditSink interface {
	LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string)
}

type Service interface {
	CreateBatch(ctx context.Context, userID string, count int, difficulty, purpose string) ([]domain.Challenge, error)
	CreateOne(ctx context.Context, userID, difficulty, purpose string) (*domain.Challenge, error)
	ValidateStrict(ctx context.Context, challengeID, userID string) (domain.ChallengeCheck, error)
	MarkUsed(ctx context.Context, challengeID string) error
	CleanupExpired(ctx context.Context) (int, error)
	CleanupUsed(ctx context.Context) (int, error)
}

type ServiceDeps struct {
	Challenges ChallengeStore
	Phrases    PhraseCatalog
	Users      UserStore
	Audit      AuditSink
	MaxActive  int
	MaxPerHour int
}

type service struct {
	challenges ChallengeStore
	phrases    PhraseCatalog
	users      UserStore
	audit      AuditSink
	maxActive  int
	maxPerHour int
}

func NewService(deps ServiceDeps) Service {
	return &service{
		challenges: deps.Challenges,
		phrases:    deps.Phrases,
		users:      deps.Users,
		audit:      deps.Audit,
		maxActive:  deps.MaxActive,
		maxPerHour: deps.MaxPerHour,
	}
}

// CreateBatch issues count challenges for the user. Rate limits are checked
// before the catalog is touched; recently used phrases are excluded, with a
// logged fallback to repeats when the pool runs dry.
func (s *service) CreateBatch(ctx context.Context, userID string, count int, difficulty, purpose string) ([]domain.Challenge, error) {
	if count <= 0 {
		return nil, fmt.Errorf("challenge count must be positive: %w", domain.ErrBadRequest)
	}
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}

	active, err := s.challenges.CountActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= s.maxActive {
		return nil, fmt.Errorf("user has %d active challenges (max %d): %w", active, s.maxActive, domain.ErrConflict)
	}
	now := time.Now().UTC()
	recent, err := s.challenges.CountRecent(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return nil, err
	}
	if recent >= s.maxPerHour {
		return nil, fmt.Errorf("user created %d challenges in the last hour (max %d): %w", recent, s.maxPerHour, domain.ErrConflict)
	}

	exclude, err := s.phrases.RecentPhraseIDs(ctx, userID, exclusionLimit, now.Add(-exclusionWindow))
	if err != nil {
		return nil, fmt.Errorf("recent phrase lookup: %w", err)
	}
	picked, err := s.phrases.FindRandom(ctx, count, difficulty, exclude)
	if err != nil {
		return nil, fmt.Errorf("phrase selection: %w", err)
	}
	if len(picked) < count {
		// Exclusion ate the whole pool; allow repeats rather than failing.
		slog.Warn("phrase pool exhausted by exclusion window, allowing repeats",
			"user_id", userID, "difficulty", difficulty, "excluded", len(exclude))
		picked, err = s.phrases.FindRandom(ctx, count, difficulty, nil)
		if err != nil {
			return nil, fmt.Errorf("phrase selection: %w", err)
		}
	}
	if len(picked) < count {
		return nil, fmt.Errorf("no phrases available for difficulty %q: %w", difficulty, domain.ErrNotFound)
	}
	if hasRepeats(picked) {
		slog.Warn("repeating phrases within one batch, pool smaller than requested",
			"user_id", userID, "difficulty", difficulty, "count", count)
	}

	timeout := domain.ChallengeTimeout(difficulty)
	out := make([]domain.Challenge, 0, count)
	for _, p := range picked {
		c := domain.Challenge{
			ChallengeID: id.New(),
			UserID:      userID,
			PhraseID:    p.PhraseID,
			PhraseText:  p.Text,
			Difficulty:  difficulty,
			CreatedAt:   now,
			ExpiresAt:   now.Add(timeout),
			TTL:         now.Add(timeout).Add(challengeGCGrace).Unix(),
		}
		if err := s.challenges.Put(ctx, &c); err != nil {
			return nil, fmt.Errorf("store challenge: %w", err)
		}
		if err := s.phrases.RecordUsage(ctx, p.PhraseID, userID, purpose); err != nil {
			slog.Warn("failed to record phrase usage", "phrase_id", p.PhraseID, "user_id", userID, "err", err)
		}
		s.audit.LogEvent(ctx, userID, "challenge.create", "challenge", c.ChallengeID, true, map[string]string{
			"difficulty":    difficulty,
			"purpose":       purpose,
			"phrase_length": strconv.Itoa(len(p.Text)),
			"expires_at":    c.ExpiresAt.Format(time.RFC3339),
		})
		out = append(out, c)
	}
	return out, nil
}

func (s *service) CreateOne(ctx context.Context, userID, difficulty, purpose string) (*domain.Challenge, error) {
	cs, err := s.CreateBatch(ctx, userID, 1, difficulty, purpose)
	if err != nil {
		return nil, err
	}
	return &cs[0], nil
}

// ValidateStrict runs the ordered checks: exists, belongs to the user, not
// used, not expired. A failed check is a typed negative, not an error; only
// storage faults surface as errors.
func (s *service) ValidateStrict(ctx context.Context, challengeID, userID string) (domain.ChallengeCheck, error) {
	c, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ChallengeCheck{Valid: false, Reason: domain.CheckNotFound}, nil
		}
		return domain.ChallengeCheck{}, err
	}
	if c.UserID != userID {
		return domain.ChallengeCheck{Valid: false, Reason: domain.CheckWrongOwner, Challenge: c}, nil
	}
	if c.Used() {
		return domain.ChallengeCheck{Valid: false, Reason: domain.CheckUsed, Challenge: c}, nil
	}
	if c.Expired(time.Now().UTC()) {
		return domain.ChallengeCheck{Valid: false, Reason: domain.CheckExpired, Challenge: c}, nil
	}
	return domain.ChallengeCheck{Valid: true, Challenge: c}, nil
}

// MarkUsed consumes the challenge. The store's conditional update guarantees
// at-most-one consumption; a lost race surfaces as ErrConflict.
func (s *service) MarkUsed(ctx context.Context, challengeID string) error {
	return s.challenges.MarkUsed(ctx, challengeID, time.Now().UTC())
}

// CleanupExpired removes challenges past their expiry plus the readability
// grace. Advisory only; the table TTL is the backstop.
func (s *service) CleanupExpired(ctx context.Context) (int, error) {
	n, err := s.challenges.DeleteExpired(ctx, time.Now().UTC().Add(-challengeGCGrace))
	if err != nil {
		return n, err
	}
	if n > 0 {
		slog.Info("cleaned up expired challenges", "deleted", n)
	}
	return n, nil
}

// CleanupUsed removes challenges consumed more than the grace period ago.
func (s *service) CleanupUsed(ctx context.Context) (int, error) {
	n, err := s.challenges.DeleteUsed(ctx, time.Now().UTC().Add(-challengeGCGrace))
	if err != nil {
		return n, err
	}
	if n > 0 {
		slog.Info("cleaned up used challenges", "deleted", n)
	}
	return n, nil
}

func hasRepeats(ps []domain.Phrase) bool {
	seen := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		if _, dup := seen[p.PhraseID]; dup {
			return true
		}
		seen[p.PhraseID] = struct{}{}
	}
	return false
}
