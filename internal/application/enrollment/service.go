// Package enrollment collects reference voice samples over challenges and
// builds the user's voiceprint from them.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/voiceid-api/internal/application/challenge"
	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/infrastructure/provider"
	"github.com/voiceid-api/internal/pkg/id"
	"github.com/voiceid-api/internal/pkg/vec"
)

// sessionGrace mirrors the verification session bound: an enrollment session
// never outlives its last challenge by more than this.
const sessionGrace = 5 * time.Minute

// singleSampleQuality is the quality floor assigned when fewer than two
// samples exist to compare pairwise.
const singleSampleQuality = 0.5

type SessionStore interface {
	PutEnrollment(ctx context.Context, s *domain.EnrollmentSession) error
	GetEnrollment(ctx context.Context, sessionID string) (*domain.EnrollmentSession, error)
	AppendSample(ctx context.Context, sessionID string, index int, embedding []float64, sampleKey string) error
	DeleteEnrollment(ctx context.Context, sessionID string) error
}

type VoiceprintStore interface {
	GetByUser(ctx context.Context, userID string) (*domain.Voiceprint, error)
	Save(ctx context.Context, v *domain.Voiceprint) error
	ArchiveToHistory(ctx context.Context, userID string) error
}

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type EvidenceProvider interface {
	Analyze(ctx context.Context, audio []byte, referenceEmbedding []float64, expectedPhrase string) (*provider.Analysis, error)
}

type SampleStore interface {
	PutSample(ctx context.Context, userID, challengeID string, audio []byte, format string) (string, error)
}

type AuditSink interface {
	LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string)
}

type Alerter interface {
	VoiceprintReplaced(ctx context.Context, u *domain.User)
}

// StartOutcome reports whether a session was opened. AlreadyEnrolled is set
// when an existing voiceprint short-circuited the start as a no-op.
type StartOutcome struct {
	Session         *domain.EnrollmentSession
	Challenges      []domain.Challenge
	AlreadyEnrolled bool
}

// SampleOutcome reports progress after one accepted sample.
type SampleOutcome struct {
	SessionID        string `json:"session_id"`
	SamplesCollected int    `json:"samples_collected"`
	SamplesRequired  int    `json:"samples_required"`
	Complete         bool   `json:"complete"`
}

// Status is the current shape of an enrollment session.
type Status struct {
	SessionID        string    `json:"session_id"`
	SamplesCollected int       `json:"samples_collected"`
	SamplesRequired  int       `json:"samples_required"`
	NextChallengeID  string    `json:"next_challenge_id,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type Service interface {
	Start(ctx context.Context, userID, difficulty string, force bool) (*StartOutcome, error)
	AddSample(ctx context.Context, sessionID, userID, challengeID string, audio []byte, format string) (*SampleOutcome, error)
	Complete(ctx context.Context, sessionID, userID string) (*domain.Voiceprint, error)
	Status(ctx context.Context, sessionID, userID string) (*Status, error)
}

type ServiceDeps struct {
	Sessions    SessionStore
	Voiceprints VoiceprintStore
	Users       UserStore
	Ledger      challenge.Service
	Provider    EvidenceProvider
	Samples     SampleStore
	Audit       AuditSink
	Alerter     Alerter // optional
	SampleCount int     // samples required per enrollment, default 3
}

type service struct {
	sessions    SessionStore
	voiceprints VoiceprintStore
	users       UserStore
	ledger      challenge.Service
	provider    EvidenceProvider
	samples     SampleStore
	audit       AuditSink
	alerter     Alerter
	sampleCount int
}

func NewService(deps ServiceDeps) Service {
	n := deps.SampleCount
	if n <= 0 {
		n = 3
	}
	return &service{
		sessions:    deps.Sessions,
		voiceprints: deps.Voiceprints,
		users:       deps.Users,
		ledger:      deps.Ledger,
		provider:    deps.Provider,
		samples:     deps.Samples,
		audit:       deps.Audit,
		alerter:     deps.Alerter,
		sampleCount: n,
	}
}

// Start opens an enrollment session. An existing voiceprint short-circuits
// as a no-op unless force is set.
func (s *service) Start(ctx context.Context, userID, difficulty string, force bool) (*StartOutcome, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if !force {
		if _, err := s.voiceprints.GetByUser(ctx, userID); err == nil {
			return &StartOutcome{AlreadyEnrolled: true}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if difficulty == "" {
		difficulty = domain.DifficultyEasy
	}
	cs, err := s.ledger.CreateBatch(ctx, userID, s.sampleCount, difficulty, "enrollment")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ChallengeID)
		if c.ExpiresAt.After(expiresAt) {
			expiresAt = c.ExpiresAt
		}
	}
	expiresAt = expiresAt.Add(sessionGrace)

	sess := &domain.EnrollmentSession{
		SessionID:    id.New(),
		UserID:       userID,
		ChallengeIDs: ids,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		TTL:          expiresAt.Unix(),
	}
	if err := s.sessions.PutEnrollment(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.audit.LogEvent(ctx, userID, "enrollment.start", "enrollment_session", sess.SessionID, true, map[string]string{
		"samples_required": strconv.Itoa(s.sampleCount),
		"difficulty":       difficulty,
		"force":            strconv.FormatBool(force),
	})
	return &StartOutcome{Session: sess, Challenges: cs}, nil
}

// AddSample accepts one spoken sample for the session's current challenge:
// it is analyzed, validated, stored and the challenge consumed.
func (s *service) AddSample(ctx context.Context, sessionID, userID, challengeID string, audio []byte, format string) (*SampleOutcome, error) {
	sess, err := s.sessions.GetEnrollment(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("session does not belong to user: %w", domain.ErrForbidden)
	}
	if sess.Expired(time.Now().UTC()) {
		return nil, fmt.Errorf("enrollment session expired: %w", domain.ErrBadRequest)
	}
	if sess.SamplesCollected >= s.sampleCount {
		return nil, fmt.Errorf("all %d samples already collected: %w", s.sampleCount, domain.ErrConflict)
	}

	// Samples arrive strictly in challenge order.
	expected := sess.ChallengeIDs[sess.NextIndex]
	if challengeID == "" {
		challengeID = expected
	}
	if challengeID != expected {
		return nil, fmt.Errorf("challenge %s is not the session's current challenge: %w", challengeID, domain.ErrBadRequest)
	}

	check, err := s.ledger.ValidateStrict(ctx, challengeID, userID)
	if err != nil {
		return nil, err
	}
	if !check.Valid {
		return nil, fmt.Errorf("challenge %s: %w", check.Reason, domain.ErrBadRequest)
	}

	analysis, err := s.provider.Analyze(ctx, audio, nil, check.Challenge.PhraseText)
	if err != nil {
		return nil, fmt.Errorf("evidence provider: %w", err)
	}
	if err := vec.Validate(analysis.Embedding); err != nil {
		return nil, fmt.Errorf("unusable embedding: %v: %w", err, domain.ErrBadRequest)
	}

	key, err := s.samples.PutSample(ctx, userID, challengeID, audio, format)
	if err != nil {
		return nil, fmt.Errorf("store audio sample: %w", err)
	}

	// Consume before advancing: a consumed challenge can never feed a second
	// sample even if the append below fails and is retried.
	if err := s.ledger.MarkUsed(ctx, challengeID); err != nil {
		return nil, err
	}
	if err := s.sessions.AppendSample(ctx, sessionID, sess.NextIndex, analysis.Embedding, key); err != nil {
		return nil, err
	}

	collected := sess.SamplesCollected + 1
	s.audit.LogEvent(ctx, userID, "enrollment.sample", "enrollment_session", sessionID, true, map[string]string{
		"challenge_id":     challengeID,
		"sample_index":     strconv.Itoa(sess.NextIndex),
		"embedding_length": strconv.Itoa(len(analysis.Embedding)),
	})
	return &SampleOutcome{
		SessionID:        sessionID,
		SamplesCollected: collected,
		SamplesRequired:  s.sampleCount,
		Complete:         collected >= s.sampleCount,
	}, nil
}

// Complete builds the voiceprint from the session's last collected samples:
// component-wise average, renormalized, with quality scored as the mean
// pairwise cosine similarity. Any prior voiceprint is archived first.
func (s *service) Complete(ctx context.Context, sessionID, userID string) (*domain.Voiceprint, error) {
	sess, err := s.sessions.GetEnrollment(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("session does not belong to user: %w", domain.ErrForbidden)
	}
	if sess.SamplesCollected < s.sampleCount {
		return nil, fmt.Errorf("need %d samples, have %d: %w", s.sampleCount, sess.SamplesCollected, domain.ErrPrecondition)
	}

	embs := sess.Embeddings
	if len(embs) > s.sampleCount {
		embs = embs[len(embs)-s.sampleCount:]
	}
	mean, err := vec.Mean(embs)
	if err != nil {
		return nil, fmt.Errorf("average embeddings: %w", err)
	}
	embedding := vec.Normalize(mean)
	quality := Quality(embs)

	replaced := false
	if _, err := s.voiceprints.GetByUser(ctx, userID); err == nil {
		if err := s.voiceprints.ArchiveToHistory(ctx, userID); err != nil {
			return nil, fmt.Errorf("archive prior voiceprint: %w", err)
		}
		replaced = true
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	vp := &domain.Voiceprint{
		UserID:      userID,
		Embedding:   embedding,
		Quality:     quality,
		SampleCount: len(embs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.voiceprints.Save(ctx, vp); err != nil {
		return nil, fmt.Errorf("save voiceprint: %w", err)
	}
	if err := s.sessions.DeleteEnrollment(ctx, sessionID); err != nil {
		slog.Warn("failed to delete completed enrollment session", "session_id", sessionID, "err", err)
	}
	s.audit.LogEvent(ctx, userID, "enrollment.complete", "voiceprint", userID, true, map[string]string{
		"quality":      strconv.FormatFloat(quality, 'f', 4, 64),
		"sample_count": strconv.Itoa(len(embs)),
		"replaced":     strconv.FormatBool(replaced),
	})
	if replaced && s.alerter != nil {
		if u, uerr := s.users.Get(ctx, userID); uerr == nil {
			s.alerter.VoiceprintReplaced(ctx, u)
		}
	}
	return vp, nil
}

func (s *service) Status(ctx context.Context, sessionID, userID string) (*Status, error) {
	sess, err := s.sessions.GetEnrollment(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("session does not belong to user: %w", domain.ErrForbidden)
	}
	st := &Status{
		SessionID:        sess.SessionID,
		SamplesCollected: sess.SamplesCollected,
		SamplesRequired:  s.sampleCount,
		ExpiresAt:        sess.ExpiresAt,
	}
	if sess.NextIndex < len(sess.ChallengeIDs) && sess.SamplesCollected < s.sampleCount {
		st.NextChallengeID = sess.ChallengeIDs[sess.NextIndex]
	}
	return st, nil
}

// Quality scores a sample set as the mean pairwise cosine similarity,
// with a fixed floor when fewer than two samples exist to compare.
func Quality(embs [][]float64) float64 {
	if len(embs) < 2 {
		return singleSampleQuality
	}
	var sum float64
	var pairs int
	for i := 0; i < len(embs); i++ {
		for j := i + 1; j < len(embs); j++ {
			sum += vec.Cosine(embs[i], embs[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
