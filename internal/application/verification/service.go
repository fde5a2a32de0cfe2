// Package verification drives single- and multi-round verification sessions:
// challenge allocation, evidence collection, fusion and the terminal
// policy-driven decision.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/voiceid-api/internal/application/challenge"
	"github.com/voiceid-api/internal/application/fusion"
	"github.com/voiceid-api/internal/application/policy"
	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/infrastructure/provider"
	"github.com/voiceid-api/internal/pkg/id"
	"github.com/voiceid-api/internal/pkg/vec"
)

// sessionGrace is added on top of the latest challenge expiry when bounding
// a session's lifetime. A session never outlives its own challenges by more
// than this.
const sessionGrace = 5 * time.Minute

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type SessionStore interface {
	PutVerification(ctx context.Context, s *domain.VerificationSession) error
	GetVerification(ctx context.Context, sessionID string) (*domain.VerificationSession, error)
	AppendRound(ctx context.Context, sessionID string, round int, result domain.RoundResult) error
	DeleteVerification(ctx context.Context, sessionID string) error
}

type VoiceprintStore interface {
	GetByUser(ctx context.Context, userID string) (*domain.Voiceprint, error)
}

type AttemptStore interface {
	Put(ctx context.Context, a *domain.AuthAttemptResult) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuthAttemptResult, error)
}

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type EvidenceProvider interface {
	Analyze(ctx context.Context, audio []byte, referenceEmbedding []float64, expectedPhrase string) (*provider.Analysis, error)
}

type AuditSink interface {
	LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string)
}

type Alerter interface {
	VerificationRejected(ctx context.Context, u *domain.User, reason string)
}

// StartInput opens a verification session for a claimed identity.
type StartInput struct {
	UserID          string
	ClientID        string
	Difficulty      string
	RequestedPolicy string
}

// StartOutcome carries the new session plus the challenges the caller must
// present to the user, phrase texts included.
type StartOutcome struct {
	Session    *domain.VerificationSession
	Challenges []domain.Challenge
}

// VerifyInput submits one round of audio evidence. ChallengeID may be empty;
// it then defaults to the session's current round.
type VerifyInput struct {
	SessionID   string
	ChallengeID string
	UserID      string
	ClientID    string
	Audio       []byte
}

// QuickInput is the challenge-free shortcut: no session, no replay
// protection, explicitly lower assurance.
type QuickInput struct {
	UserID          string
	ClientID        string
	Audio           []byte
	ExpectedPhrase  string
	RequestedPolicy string
}

// Outcome is the structured result of a round submission. Protocol errors
// and decisions are both expressed here; errors are reserved for validation
// and programming faults.
type Outcome struct {
	SessionID        string  `json:"session_id,omitempty"`
	AttemptID        string  `json:"attempt_id,omitempty"`
	Decided          bool    `json:"decided"`
	Accept           bool    `json:"accept"`
	Reason           string  `json:"reason,omitempty"`
	Round            int     `json:"round,omitempty"`
	RoundsTotal      int     `json:"rounds_total,omitempty"`
	Composite        float64 `json:"composite,omitempty"`
	AverageComposite float64 `json:"average_composite,omitempty"`
}

type Service interface {
	Start(ctx context.Context, in StartInput) (*StartOutcome, error)
	StartMultiPhrase(ctx context.Context, in StartInput) (*StartOutcome, error)
	VerifyVoice(ctx context.Context, in VerifyInput) (*Outcome, error)
	QuickVerify(ctx context.Context, in QuickInput) (*Outcome, error)
	History(ctx context.Context, userID string, limit int) ([]domain.AuthAttemptResult, error)
}

type ServiceDeps struct {
	Sessions    SessionStore
	Voiceprints VoiceprintStore
	Attempts    AttemptStore
	Users       UserStore
	Ledger      challenge.Service
	Provider    EvidenceProvider
	Fuser       *fusion.Fuser
	Policies    *policy.Registry
	Selector    policy.Selector
	Evaluator   policy.Evaluator
	Audit       AuditSink
	Alerter     Alerter // optional
}

type service struct {
	sessions    SessionStore
	voiceprints VoiceprintStore
	attempts    AttemptStore
	users       UserStore
	ledger      challenge.Service
	provider    EvidenceProvider
	fuser       *fusion.Fuser
	policies    *policy.Registry
	selector    policy.Selector
	evaluator   policy.Evaluator
	audit       AuditSink
	alerter     Alerter
}

func NewService(deps ServiceDeps) Service {
	return &service{
		sessions:    deps.Sessions,
		voiceprints: deps.Voiceprints,
		attempts:    deps.Attempts,
		users:       deps.Users,
		ledger:      deps.Ledger,
		provider:    deps.Provider,
		fuser:       deps.Fuser,
		policies:    deps.Policies,
		selector:    deps.Selector,
		evaluator:   deps.Evaluator,
		audit:       deps.Audit,
		alerter:     deps.Alerter,
	}
}

func (s *service) Start(ctx context.Context, in StartInput) (*StartOutcome, error) {
	return s.start(ctx, in, domain.PhaseSingle)
}

func (s *service) StartMultiPhrase(ctx context.Context, in StartInput) (*StartOutcome, error) {
	return s.start(ctx, in, domain.PhaseMulti)
}

func (s *service) start(ctx context.Context, in StartInput, phase string) (*StartOutcome, error) {
	difficulty := in.Difficulty
	if difficulty == "" {
		difficulty = domain.DifficultyMedium
	}
	// Verification is never "easy" in multi-phrase mode.
	if phase == domain.PhaseMulti && difficulty == domain.DifficultyEasy {
		difficulty = domain.DifficultyMedium
	}

	if _, err := s.voiceprints.GetByUser(ctx, in.UserID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user has no enrolled voiceprint: %w", domain.ErrPrecondition)
		}
		return nil, err
	}

	count := 1
	if phase == domain.PhaseMulti {
		count = domain.MultiPhraseRounds
	}
	cs, err := s.ledger.CreateBatch(ctx, in.UserID, count, difficulty, "verification")
	if err != nil {
		return nil, err
	}

	pol := s.selector.Select(policy.RequestContext{
		UserID:          in.UserID,
		ClientID:        in.ClientID,
		RequestedPolicy: in.RequestedPolicy,
		RecentFailures:  s.recentFailures(ctx, in.UserID),
	})

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

	sess := &domain.VerificationSession{
		SessionID:    id.New(),
		UserID:       in.UserID,
		Phase:        phase,
		PolicyName:   pol.Name,
		ChallengeIDs: ids,
		CurrentRound: 1,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		TTL:          expiresAt.Unix(),
	}
	if err := s.sessions.PutVerification(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	s.audit.LogEvent(ctx, in.UserID, "verification.start", "verification_session", sess.SessionID, true, map[string]string{
		"phase":      phase,
		"policy":     pol.Name,
		"difficulty": difficulty,
		"rounds":     strconv.Itoa(count),
	})
	return &StartOutcome{Session: sess, Challenges: cs}, nil
}

func (s *service) VerifyVoice(ctx context.Context, in VerifyInput) (*Outcome, error) {
	start := time.Now()

	sess, err := s.sessions.GetVerification(ctx, in.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.protocolReject(ctx, in.UserID, in.SessionID, domain.ReasonError, "unknown session"), nil
		}
		return nil, err
	}
	if sess.UserID != in.UserID {
		return s.protocolReject(ctx, in.UserID, in.SessionID, domain.ReasonError, "session owner mismatch"), nil
	}
	now := time.Now().UTC()
	if sess.Expired(now) {
		if derr := s.sessions.DeleteVerification(ctx, sess.SessionID); derr != nil {
			slog.Warn("failed to delete expired session", "session_id", sess.SessionID, "err", derr)
		}
		return s.protocolReject(ctx, in.UserID, in.SessionID, domain.ReasonExpiredChallenge, "session expired"), nil
	}
	if sess.CurrentRound > len(sess.ChallengeIDs) {
		return s.protocolReject(ctx, in.UserID, in.SessionID, domain.ReasonError, "session already decided"), nil
	}

	// Rounds must arrive strictly in order; the submitted challenge has to be
	// the one bound to the current round.
	expected := sess.ChallengeIDs[sess.CurrentRound-1]
	challengeID := in.ChallengeID
	if challengeID == "" {
		challengeID = expected
	}
	if challengeID != expected {
		return s.protocolReject(ctx, in.UserID, in.SessionID, domain.ReasonError, "out-of-order round"), nil
	}

	check, err := s.ledger.ValidateStrict(ctx, challengeID, in.UserID)
	if err != nil {
		return s.failAttempt(ctx, s.newBuilder(in.UserID, in.ClientID, challengeID), sess, start, err)
	}
	if !check.Valid {
		reason := domain.ReasonError
		if check.Reason == domain.CheckExpired {
			reason = domain.ReasonExpiredChallenge
		}
		// Challenge left unconsumed; the round never started.
		return s.protocolReject(ctx, in.UserID, in.SessionID, reason, "challenge "+check.Reason), nil
	}

	b := s.newBuilder(in.UserID, in.ClientID, challengeID)

	vp, err := s.voiceprints.GetByUser(ctx, in.UserID)
	if err != nil {
		return s.failAttempt(ctx, b, sess, start, err)
	}
	analysis, err := s.provider.Analyze(ctx, in.Audio, vp.Embedding, check.Challenge.PhraseText)
	if err != nil {
		return s.failAttempt(ctx, b, sess, start, err)
	}

	pol := s.policyFor(sess.PolicyName)
	similarity := vec.Cosine(analysis.Embedding, vp.Embedding)
	ev := s.fuser.BuildEvidence(similarity, analysis.SpoofProbability, analysis.PhraseMatchScore, analysis.TranscribedText, check.Challenge.PhraseText)
	composite := s.fuser.Composite(ev)

	// Consume win or lose: once evidence is judged, the challenge can never
	// drive another round.
	if err := s.ledger.MarkUsed(ctx, challengeID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Warn("challenge consumed concurrently, deciding computed evidence anyway",
				"challenge_id", challengeID, "session_id", sess.SessionID)
		} else {
			return s.failAttempt(ctx, b, sess, start, err)
		}
	}

	round := sess.CurrentRound
	rr := domain.RoundResult{
		Round:       round,
		ChallengeID: challengeID,
		Composite:   composite,
		Evidence:    ev,
	}
	if sess.Phase == domain.PhaseSingle {
		rr.RoundPass = s.fuser.RoundPass(ev, pol.SimilarityThreshold)
	}
	if err := s.sessions.AppendRound(ctx, sess.SessionID, round, rr); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return s.protocolReject(ctx, in.UserID, in.SessionID, domain.ReasonError, "round already claimed"), nil
		}
		return s.failAttempt(ctx, b, sess, start, err)
	}

	latency := time.Since(start).Milliseconds()
	b.WithPolicy(pol.Name).
		WithScore("similarity", ev.Similarity).
		WithScore("phrase_match", ev.PhraseMatchScore).
		WithScore("composite", composite).
		WithLatency(latency)
	if ev.SpoofProbability != nil {
		b.WithScore("spoof_probability", *ev.SpoofProbability)
	}

	if sess.Phase == domain.PhaseMulti && round < domain.MultiPhraseRounds {
		return &Outcome{
			SessionID:   sess.SessionID,
			Decided:     false,
			Round:       round,
			RoundsTotal: domain.MultiPhraseRounds,
			Composite:   composite,
		}, nil
	}

	var accept bool
	var reason string
	var avg float64
	if sess.Phase == domain.PhaseSingle {
		accept, reason = s.evaluator.Evaluate(policy.Input{
			Evidence:       ev,
			Composite:      composite,
			RecentFailures: s.recentFailures(ctx, in.UserID),
			LatencyMS:      latency,
		}, pol)
	} else {
		// Average-then-threshold over all rounds, tolerating one noisy round.
		sum := composite
		for _, r := range sess.Rounds {
			sum += r.Composite
		}
		avg = sum / float64(domain.MultiPhraseRounds)
		b.WithScore("average_composite", avg)
		if avg >= pol.SimilarityThreshold {
			accept, reason = true, domain.ReasonOK
		} else {
			accept, reason = false, domain.ReasonLowSimilarity
		}
	}

	out := s.decide(ctx, b, sess.SessionID, accept, reason)
	out.Round = round
	out.RoundsTotal = len(sess.ChallengeIDs)
	out.Composite = composite
	out.AverageComposite = avg

	if derr := s.sessions.DeleteVerification(ctx, sess.SessionID); derr != nil {
		slog.Warn("failed to tear down decided session", "session_id", sess.SessionID, "err", derr)
	}
	return out, nil
}

// QuickVerify runs the fusion gate against a caller-supplied expected phrase
// with no challenge and no replay protection.
func (s *service) QuickVerify(ctx context.Context, in QuickInput) (*Outcome, error) {
	start := time.Now()

	vp, err := s.voiceprints.GetByUser(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user has no enrolled voiceprint: %w", domain.ErrPrecondition)
		}
		return nil, err
	}

	b := domain.NewResultBuilder(id.New(), in.UserID).WithClient(in.ClientID)

	analysis, err := s.provider.Analyze(ctx, in.Audio, vp.Embedding, in.ExpectedPhrase)
	if err != nil {
		return s.failAttempt(ctx, b, nil, start, err)
	}

	pol := s.selector.Select(policy.RequestContext{
		UserID:          in.UserID,
		ClientID:        in.ClientID,
		RequestedPolicy: in.RequestedPolicy,
		RecentFailures:  s.recentFailures(ctx, in.UserID),
	})
	similarity := vec.Cosine(analysis.Embedding, vp.Embedding)
	ev := s.fuser.BuildEvidence(similarity, analysis.SpoofProbability, analysis.PhraseMatchScore, analysis.TranscribedText, in.ExpectedPhrase)
	composite := s.fuser.Composite(ev)
	latency := time.Since(start).Milliseconds()

	accept, reason := s.evaluator.Evaluate(policy.Input{
		Evidence:  ev,
		Composite: composite,
		LatencyMS: latency,
	}, pol)

	b.WithPolicy(pol.Name).
		WithScore("similarity", ev.Similarity).
		WithScore("phrase_match", ev.PhraseMatchScore).
		WithScore("composite", composite).
		WithLatency(latency)
	if ev.SpoofProbability != nil {
		b.WithScore("spoof_probability", *ev.SpoofProbability)
	}

	out := s.decide(ctx, b, "", accept, reason)
	out.Composite = composite
	return out, nil
}

func (s *service) History(ctx context.Context, userID string, limit int) ([]domain.AuthAttemptResult, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.attempts.ListByUser(ctx, userID, limit)
}

// decide freezes and persists the terminal attempt, audits it, and fires the
// security alert on high-risk rejects.
func (s *service) decide(ctx context.Context, b *domain.ResultBuilder, sessionID string, accept bool, reason string) *Outcome {
	if accept {
		b.AcceptWithReason(reason)
	} else {
		b.RejectWithReason(reason)
	}
	res, err := b.Build()
	if err != nil {
		// Unreachable by construction; keep the attempt observable anyway.
		slog.Error("failed to build attempt result", "err", err)
		return &Outcome{SessionID: sessionID, Decided: true, Accept: accept, Reason: reason}
	}
	if err := s.attempts.Put(ctx, res); err != nil {
		slog.Error("failed to persist attempt result", "attempt_id", res.AttemptID, "err", err)
	}
	s.audit.LogEvent(ctx, res.UserID, "verification.decide", "auth_attempt", res.AttemptID, accept, map[string]string{
		"reason": reason,
		"policy": res.PolicyName,
	})
	if !accept && s.alerter != nil {
		if u, uerr := s.users.Get(ctx, res.UserID); uerr == nil {
			s.alerter.VerificationRejected(ctx, u, reason)
		}
	}
	return &Outcome{
		SessionID: sessionID,
		AttemptID: res.AttemptID,
		Decided:   true,
		Accept:    accept,
		Reason:    reason,
	}
}

// failAttempt converts a collaborator fault into a persisted ERROR reject.
// The attempt is never left undecided.
func (s *service) failAttempt(ctx context.Context, b *domain.ResultBuilder, sess *domain.VerificationSession, start time.Time, cause error) (*Outcome, error) {
	slog.Error("verification attempt failed on collaborator", "err", cause)
	b.WithLatency(time.Since(start).Milliseconds())
	b.RejectWithReason(domain.ReasonError)
	res, err := b.Build()
	if err != nil {
		return nil, cause
	}
	if perr := s.attempts.Put(ctx, res); perr != nil {
		slog.Error("failed to persist errored attempt", "attempt_id", res.AttemptID, "err", perr)
	}
	sessionID := ""
	if sess != nil {
		sessionID = sess.SessionID
		if derr := s.sessions.DeleteVerification(ctx, sess.SessionID); derr != nil {
			slog.Warn("failed to tear down errored session", "session_id", sess.SessionID, "err", derr)
		}
	}
	s.audit.LogEvent(ctx, res.UserID, "verification.decide", "auth_attempt", res.AttemptID, false, map[string]string{
		"reason": domain.ReasonError,
		"error":  cause.Error(),
	})
	return &Outcome{
		SessionID: sessionID,
		AttemptID: res.AttemptID,
		Decided:   true,
		Accept:    false,
		Reason:    domain.ReasonError,
	}, nil
}

// protocolReject terminates the attempt without persisting a decision record:
// an audit entry is the only side effect.
func (s *service) protocolReject(ctx context.Context, actor, sessionID, reason, detail string) *Outcome {
	s.audit.LogEvent(ctx, actor, "verification.protocol_error", "verification_session", sessionID, false, map[string]string{
		"reason": reason,
		"detail": detail,
	})
	return &Outcome{SessionID: sessionID, Decided: true, Accept: false, Reason: reason}
}

func (s *service) newBuilder(userID, clientID, challengeID string) *domain.ResultBuilder {
	return domain.NewResultBuilder(id.New(), userID).WithClient(clientID).WithChallenge(challengeID)
}

func (s *service) policyFor(name string) domain.ThresholdPolicy {
	p, err := s.policies.Get(name)
	if err != nil {
		return policy.Standard()
	}
	return p
}

// recentFailures counts rejected attempts in the last hour, capped by the
// history page size. Lookup failures count as zero; risk scoring is advisory.
func (s *service) recentFailures(ctx context.Context, userID string) int {
	as, err := s.attempts.ListByUser(ctx, userID, defaultHistoryLimit)
	if err != nil {
		return 0
	}
	cutoff := time.Now().UTC().Add(-time.Hour)
	n := 0
	for _, a := range as {
		if a.Decided && !a.Accept && a.CreatedAt.After(cutoff) {
			n++
		}
	}
	return n
}
