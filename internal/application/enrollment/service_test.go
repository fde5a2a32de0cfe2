package enrollment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/infrastructure/provider"
)

// --- mocks ---

type mockSessionStore struct{ mock.Mock }

func (m *mockSessionStore) PutEnrollment(ctx context.Context, s *domain.EnrollmentSession) error {
	return m.Called(ctx, s).Error(0)
}
func (m *mockSessionStore) GetEnrollment(ctx context.Context, id string) (*domain.EnrollmentSession, error) {
	args := m.Called(ctx, id)
	if s, _ := args.Get(0).(*domain.EnrollmentSession); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSessionStore) AppendSample(ctx context.Context, id string, index int, embedding []float64, key string) error {
	return m.Called(ctx, id, index, embedding, key).Error(0)
}
func (m *mockSessionStore) DeleteEnrollment(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockVoiceprintStore struct{ mock.Mock }

func (m *mockVoiceprintStore) GetByUser(ctx context.Context, userID string) (*domain.Voiceprint, error) {
	args := m.Called(ctx, userID)
	if v, _ := args.Get(0).(*domain.Voiceprint); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVoiceprintStore) Save(ctx context.Context, v *domain.Voiceprint) error {
	return m.Called(ctx, v).Error(0)
}
func (m *mockVoiceprintStore) ArchiveToHistory(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) CreateBatch(ctx context.Context, userID string, count int, difficulty, purpose string) ([]domain.Challenge, error) {
	args := m.Called(ctx, userID, count, difficulty, purpose)
	if cs, _ := args.Get(0).([]domain.Challenge); cs != nil {
		return cs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockLedger) CreateOne(ctx context.Context, userID, difficulty, purpose string) (*domain.Challenge, error) {
	args := m.Called(ctx, userID, difficulty, purpose)
	if c, _ := args.Get(0).(*domain.Challenge); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockLedger) ValidateStrict(ctx context.Context, challengeID, userID string) (domain.ChallengeCheck, error) {
	args := m.Called(ctx, challengeID, userID)
	check, _ := args.Get(0).(domain.ChallengeCheck)
	return check, args.Error(1)
}
func (m *mockLedger) MarkUsed(ctx context.Context, challengeID string) error {
	return m.Called(ctx, challengeID).Error(0)
}
func (m *mockLedger) CleanupExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
func (m *mockLedger) CleanupUsed(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) Analyze(ctx context.Context, audio []byte, ref []float64, phrase string) (*provider.Analysis, error) {
	args := m.Called(ctx, audio, ref, phrase)
	if a, _ := args.Get(0).(*provider.Analysis); a != nil {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSampleStore struct{ mock.Mock }

func (m *mockSampleStore) PutSample(ctx context.Context, userID, challengeID string, audio []byte, format string) (string, error) {
	args := m.Called(ctx, userID, challengeID, audio, format)
	return args.String(0), args.Error(1)
}

type mockAuditSink struct{ mock.Mock }

func (m *mockAuditSink) LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string) {
	m.Called(ctx, actor, action, entityType, entityID, success, metadata)
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) VoiceprintReplaced(ctx context.Context, u *domain.User) {
	m.Called(ctx, u)
}

// --- fixture ---

type fixture struct {
	sessions    *mockSessionStore
	voiceprints *mockVoiceprintStore
	users       *mockUserStore
	ledger      *mockLedger
	provider    *mockProvider
	samples     *mockSampleStore
	audit       *mockAuditSink
	alerter     *mockAlerter
	svc         Service
}

func newFixture() *fixture {
	f := &fixture{
		sessions:    &mockSessionStore{},
		voiceprints: &mockVoiceprintStore{},
		users:       &mockUserStore{},
		ledger:      &mockLedger{},
		provider:    &mockProvider{},
		samples:     &mockSampleStore{},
		audit:       &mockAuditSink{},
		alerter:     &mockAlerter{},
	}
	f.svc = NewService(ServiceDeps{
		Sessions:    f.sessions,
		Voiceprints: f.voiceprints,
		Users:       f.users,
		Ledger:      f.ledger,
		Provider:    f.provider,
		Samples:     f.samples,
		Audit:       f.audit,
		Alerter:     f.alerter,
		SampleCount: 3,
	})
	return f
}

func (f *fixture) allowAudit() {
	f.audit.On("LogEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
}

func enrollSession(userID string, collected int) *domain.EnrollmentSession {
	now := time.Now().UTC()
	return &domain.EnrollmentSession{
		SessionID:        "es1",
		UserID:           userID,
		ChallengeIDs:     []string{"c1", "c2", "c3"},
		SamplesCollected: collected,
		NextIndex:        collected,
		CreatedAt:        now,
		ExpiresAt:        now.Add(7 * time.Minute),
	}
}

func validCheck(challengeID, userID string) domain.ChallengeCheck {
	now := time.Now().UTC()
	return domain.ChallengeCheck{
		Valid: true,
		Challenge: &domain.Challenge{
			ChallengeID: challengeID,
			UserID:      userID,
			PhraseText:  "crimson kites over the harbor",
			CreatedAt:   now,
			ExpiresAt:   now.Add(2 * time.Minute),
		},
	}
}

// --- Start ---

func TestStart_ExistingVoiceprintIsNoOp(t *testing.T) {
	f := newFixture()
	f.users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	f.voiceprints.On("GetByUser", mock.Anything, "u1").Return(&domain.Voiceprint{UserID: "u1"}, nil)

	out, err := f.svc.Start(context.Background(), "u1", "", false)
	require.NoError(t, err)
	assert.True(t, out.AlreadyEnrolled)
	assert.Nil(t, out.Session)
	f.ledger.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_ForceBypassesExistingVoiceprint(t *testing.T) {
	f := newFixture()
	f.allowAudit()
	f.users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	now := time.Now().UTC()
	cs := []domain.Challenge{
		{ChallengeID: "c1", ExpiresAt: now.Add(2 * time.Minute)},
		{ChallengeID: "c2", ExpiresAt: now.Add(2 * time.Minute)},
		{ChallengeID: "c3", ExpiresAt: now.Add(2 * time.Minute)},
	}
	f.ledger.On("CreateBatch", mock.Anything, "u1", 3, "easy", "enrollment").Return(cs, nil)
	f.sessions.On("PutEnrollment", mock.Anything, mock.AnythingOfType("*domain.EnrollmentSession")).Return(nil)

	out, err := f.svc.Start(context.Background(), "u1", "", true)
	require.NoError(t, err)
	assert.False(t, out.AlreadyEnrolled)
	require.NotNil(t, out.Session)
	assert.Equal(t, 0, out.Session.NextIndex)
	assert.Equal(t, []string{"c1", "c2", "c3"}, out.Session.ChallengeIDs)
	// Force never needed the voiceprint lookup.
	f.voiceprints.AssertNotCalled(t, "GetByUser", mock.Anything, mock.Anything)
}

func TestStart_FreshUser(t *testing.T) {
	f := newFixture()
	f.allowAudit()
	f.users.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	f.voiceprints.On("GetByUser", mock.Anything, "u1").Return(nil, domain.ErrNotFound)
	now := time.Now().UTC()
	cs := []domain.Challenge{
		{ChallengeID: "c1", ExpiresAt: now.Add(2 * time.Minute)},
		{ChallengeID: "c2", ExpiresAt: now.Add(2 * time.Minute)},
		{ChallengeID: "c3", ExpiresAt: now.Add(2 * time.Minute)},
	}
	f.ledger.On("CreateBatch", mock.Anything, "u1", 3, "easy", "enrollment").Return(cs, nil)
	f.sessions.On("PutEnrollment", mock.Anything, mock.Anything).Return(nil)

	out, err := f.svc.Start(context.Background(), "u1", "", false)
	require.NoError(t, err)
	require.NotNil(t, out.Session)
	assert.Len(t, out.Challenges, 3)
}

// --- AddSample ---

func TestAddSample_HappyPath(t *testing.T) {
	f := newFixture()
	f.allowAudit()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 0), nil)
	f.ledger.On("ValidateStrict", mock.Anything, "c1", "u1").Return(validCheck("c1", "u1"), nil)
	f.provider.On("Analyze", mock.Anything, []byte("wav"), []float64(nil), "crimson kites over the harbor").
		Return(&provider.Analysis{Embedding: []float64{0.6, 0.8}}, nil)
	f.samples.On("PutSample", mock.Anything, "u1", "c1", []byte("wav"), "wav").Return("samples/u1/c1.wav", nil)
	f.ledger.On("MarkUsed", mock.Anything, "c1").Return(nil)
	f.sessions.On("AppendSample", mock.Anything, "es1", 0, []float64{0.6, 0.8}, "samples/u1/c1.wav").Return(nil)

	out, err := f.svc.AddSample(context.Background(), "es1", "u1", "c1", []byte("wav"), "wav")
	require.NoError(t, err)
	assert.Equal(t, 1, out.SamplesCollected)
	assert.Equal(t, 3, out.SamplesRequired)
	assert.False(t, out.Complete)
	f.sessions.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
}

func TestAddSample_WrongOwner(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("someone-else", 0), nil)

	_, err := f.svc.AddSample(context.Background(), "es1", "u1", "c1", []byte("wav"), "wav")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestAddSample_OutOfOrderChallenge(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 0), nil)

	_, err := f.svc.AddSample(context.Background(), "es1", "u1", "c3", []byte("wav"), "wav")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
	f.ledger.AssertNotCalled(t, "MarkUsed", mock.Anything, mock.Anything)
}

func TestAddSample_UsedChallengeRejected(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 1), nil)
	f.ledger.On("ValidateStrict", mock.Anything, "c2", "u1").
		Return(domain.ChallengeCheck{Valid: false, Reason: domain.CheckUsed}, nil)

	_, err := f.svc.AddSample(context.Background(), "es1", "u1", "c2", []byte("wav"), "wav")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

func TestAddSample_BadEmbeddingRejected(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 0), nil)
	f.ledger.On("ValidateStrict", mock.Anything, "c1", "u1").Return(validCheck("c1", "u1"), nil)
	f.provider.On("Analyze", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.Analysis{Embedding: []float64{0, 0, 0}}, nil)

	_, err := f.svc.AddSample(context.Background(), "es1", "u1", "c1", []byte("wav"), "wav")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
	// A rejected sample must not consume its challenge.
	f.ledger.AssertNotCalled(t, "MarkUsed", mock.Anything, mock.Anything)
	f.samples.AssertNotCalled(t, "PutSample", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAddSample_AllCollected(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 3), nil)

	_, err := f.svc.AddSample(context.Background(), "es1", "u1", "", []byte("wav"), "wav")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

// --- Complete ---

func TestComplete_TooFewSamples(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 2), nil)

	_, err := f.svc.Complete(context.Background(), "es1", "u1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPrecondition))
}

func TestComplete_FirstEnrollment(t *testing.T) {
	f := newFixture()
	f.allowAudit()
	sess := enrollSession("u1", 3)
	sess.Embeddings = [][]float64{{1, 0}, {1, 0}, {1, 0}}
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(sess, nil)
	f.voiceprints.On("GetByUser", mock.Anything, "u1").Return(nil, domain.ErrNotFound)
	f.voiceprints.On("Save", mock.Anything, mock.AnythingOfType("*domain.Voiceprint")).Return(nil)
	f.sessions.On("DeleteEnrollment", mock.Anything, "es1").Return(nil)

	vp, err := f.svc.Complete(context.Background(), "es1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, vp.Embedding)
	// Identical samples: perfect pairwise agreement.
	assert.InDelta(t, 1.0, vp.Quality, 1e-9)
	assert.Equal(t, 3, vp.SampleCount)
	f.voiceprints.AssertNotCalled(t, "ArchiveToHistory", mock.Anything, mock.Anything)
	f.alerter.AssertNotCalled(t, "VoiceprintReplaced", mock.Anything, mock.Anything)
}

func TestComplete_ReEnrollmentArchivesAndAlerts(t *testing.T) {
	f := newFixture()
	f.allowAudit()
	sess := enrollSession("u1", 3)
	sess.Embeddings = [][]float64{{0, 1}, {0, 1}, {0, 1}}
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(sess, nil)
	f.voiceprints.On("GetByUser", mock.Anything, "u1").Return(&domain.Voiceprint{UserID: "u1"}, nil)
	f.voiceprints.On("ArchiveToHistory", mock.Anything, "u1").Return(nil)
	f.voiceprints.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.sessions.On("DeleteEnrollment", mock.Anything, "es1").Return(nil)
	user := &domain.User{UserID: "u1", Email: "u1@example.com"}
	f.users.On("Get", mock.Anything, "u1").Return(user, nil)
	f.alerter.On("VoiceprintReplaced", mock.Anything, user).Return()

	_, err := f.svc.Complete(context.Background(), "es1", "u1")
	require.NoError(t, err)
	f.voiceprints.AssertCalled(t, "ArchiveToHistory", mock.Anything, "u1")
	f.alerter.AssertExpectations(t)
}

func TestComplete_AveragesAndRenormalizes(t *testing.T) {
	f := newFixture()
	f.allowAudit()
	sess := enrollSession("u1", 3)
	// Mean is (2/3, 1/3); renormalized to unit length.
	sess.Embeddings = [][]float64{{1, 0}, {1, 0}, {0, 1}}
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(sess, nil)
	f.voiceprints.On("GetByUser", mock.Anything, "u1").Return(nil, domain.ErrNotFound)
	var saved *domain.Voiceprint
	f.voiceprints.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*domain.Voiceprint)
	}).Return(nil)
	f.sessions.On("DeleteEnrollment", mock.Anything, "es1").Return(nil)

	_, err := f.svc.Complete(context.Background(), "es1", "u1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	var norm float64
	for _, x := range saved.Embedding {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}

// --- Quality ---

func TestQuality_IdenticalPairIsOne(t *testing.T) {
	q := Quality([][]float64{{0.3, 0.4}, {0.3, 0.4}})
	assert.InDelta(t, 1.0, q, 1e-9)
}

func TestQuality_SingleSampleFloor(t *testing.T) {
	assert.Equal(t, 0.5, Quality([][]float64{{1, 0}}))
	assert.Equal(t, 0.5, Quality(nil))
}

// --- Status ---

func TestStatus(t *testing.T) {
	f := newFixture()
	f.sessions.On("GetEnrollment", mock.Anything, "es1").Return(enrollSession("u1", 1), nil)

	st, err := f.svc.Status(context.Background(), "es1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.SamplesCollected)
	assert.Equal(t, 3, st.SamplesRequired)
	assert.Equal(t, "c2", st.NextChallengeID)
}
