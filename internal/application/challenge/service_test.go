package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/voiceid-api/internal/domain"
)

// --- mocks ---

type mockChallengeStore struct{ mock.Mock }

func (m *mockChallengeStore) Put(ctx context.Context, c *domain.Challenge) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockChallengeStore) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	args := m.Called(ctx, id)
	if c, _ := args.Get(0).(*domain.Challenge); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockChallengeStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}
func (m *mockChallengeStore) CountActive(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
func (m *mockChallengeStore) CountRecent(ctx context.Context, userID string, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}
func (m *mockChallengeStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}
func (m *mockChallengeStore) DeleteUsed(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

type mockPhraseCatalog struct{ mock.Mock }

func (m *mockPhraseCatalog) FindRandom(ctx context.Context, count int, difficulty string, exclude []string) ([]domain.Phrase, error) {
	args := m.Called(ctx, count, difficulty, exclude)
	if ps, _ := args.Get(0).([]domain.Phrase); ps != nil {
		return ps, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockPhraseCatalog) RecordUsage(ctx context.Context, phraseID, userID, purpose string) error {
	return m.Called(ctx, phraseID, userID, purpose).Error(0)
}
func (m *mockPhraseCatalog) RecentPhraseIDs(ctx context.Context, userID string, limit int, since time.Time) ([]string, error) {
	args := m.Called(ctx, userID, limit, since)
	if ids, _ := args.Get(0).([]string); ids != nil {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) Get(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u, _ := args.Get(0).(*domain.User); u != nil {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAuditSink struct{ mock.Mock }

func (m *mockAuditSink) LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string) {
	m.Called(ctx, actor, action, entityType, entityID, success, metadata)
}

// --- builder ---

func newService(cs *mockChallengeStore, pc *mockPhraseCatalog, us *mockUserStore, as *mockAuditSink) Service {
	return NewService(ServiceDeps{
		Challenges: cs,
		Phrases:    pc,
		Users:      us,
		Audit:      as,
		MaxActive:  3,
		MaxPerHour: 20,
	})
}

func phrases(ids ...string) []domain.Phrase {
	out := make([]domain.Phrase, 0, len(ids))
	for _, pid := range ids {
		out = append(out, domain.Phrase{PhraseID: pid, Text: "say " + pid, Difficulty: "medium", Enable: true})
	}
	return out
}

// --- CreateBatch ---

func TestCreateBatch_HappyPath(t *testing.T) {
	cs := &mockChallengeStore{}
	pc := &mockPhraseCatalog{}
	us := &mockUserStore{}
	as := &mockAuditSink{}

	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	cs.On("CountActive", mock.Anything, "u1").Return(0, nil)
	cs.On("CountRecent", mock.Anything, "u1", mock.Anything).Return(0, nil)
	pc.On("RecentPhraseIDs", mock.Anything, "u1", 50, mock.Anything).Return([]string{"old"}, nil)
	pc.On("FindRandom", mock.Anything, 3, "medium", []string{"old"}).Return(phrases("p1", "p2", "p3"), nil)
	cs.On("Put", mock.Anything, mock.AnythingOfType("*domain.Challenge")).Return(nil)
	pc.On("RecordUsage", mock.Anything, mock.Anything, "u1", "verification").Return(nil)
	as.On("LogEvent", mock.Anything, "u1", "challenge.create", "challenge", mock.Anything, true, mock.Anything).Return()

	svc := newService(cs, pc, us, as)
	got, err := svc.CreateBatch(context.Background(), "u1", 3, "medium", "verification")

	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, "u1", c.UserID)
		assert.True(t, c.ExpiresAt.After(c.CreatedAt))
		assert.Equal(t, 3*time.Minute, c.ExpiresAt.Sub(c.CreatedAt))
		assert.Nil(t, c.UsedAt)
	}
	cs.AssertExpectations(t)
	pc.AssertExpectations(t)
}

func TestCreateBatch_UserMissing(t *testing.T) {
	us := &mockUserStore{}
	us.On("Get", mock.Anything, "ghost").Return(nil, domain.ErrNotFound)

	svc := newService(&mockChallengeStore{}, &mockPhraseCatalog{}, us, &mockAuditSink{})
	_, err := svc.CreateBatch(context.Background(), "ghost", 1, "easy", "verification")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateBatch_ActiveLimitSkipsCatalog(t *testing.T) {
	cs := &mockChallengeStore{}
	pc := &mockPhraseCatalog{}
	us := &mockUserStore{}

	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	cs.On("CountActive", mock.Anything, "u1").Return(3, nil)

	svc := newService(cs, pc, us, &mockAuditSink{})
	_, err := svc.CreateBatch(context.Background(), "u1", 1, "medium", "verification")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	// The catalog must never have been consulted.
	pc.AssertNotCalled(t, "FindRandom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	pc.AssertNotCalled(t, "RecentPhraseIDs", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateBatch_HourlyLimit(t *testing.T) {
	cs := &mockChallengeStore{}
	us := &mockUserStore{}

	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	cs.On("CountActive", mock.Anything, "u1").Return(0, nil)
	cs.On("CountRecent", mock.Anything, "u1", mock.Anything).Return(20, nil)

	svc := newService(cs, &mockPhraseCatalog{}, us, &mockAuditSink{})
	_, err := svc.CreateBatch(context.Background(), "u1", 1, "medium", "verification")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestCreateBatch_ExhaustedPoolAllowsRepeats(t *testing.T) {
	cs := &mockChallengeStore{}
	pc := &mockPhraseCatalog{}
	us := &mockUserStore{}
	as := &mockAuditSink{}

	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	cs.On("CountActive", mock.Anything, "u1").Return(0, nil)
	cs.On("CountRecent", mock.Anything, "u1", mock.Anything).Return(0, nil)
	pc.On("RecentPhraseIDs", mock.Anything, "u1", 50, mock.Anything).Return([]string{"p1", "p2"}, nil)
	// Everything is excluded on the first pass.
	pc.On("FindRandom", mock.Anything, 3, "medium", []string{"p1", "p2"}).Return(nil, nil)
	// Retry without exclusion cycles the small pool into repeats.
	pc.On("FindRandom", mock.Anything, 3, "medium", []string(nil)).Return(phrases("p1", "p2", "p1"), nil)
	cs.On("Put", mock.Anything, mock.AnythingOfType("*domain.Challenge")).Return(nil)
	pc.On("RecordUsage", mock.Anything, mock.Anything, "u1", "verification").Return(nil)
	as.On("LogEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()

	svc := newService(cs, pc, us, as)
	got, err := svc.CreateBatch(context.Background(), "u1", 3, "medium", "verification")

	require.NoError(t, err)
	assert.Len(t, got, 3)
	pc.AssertExpectations(t)
}

func TestCreateBatch_NoPhrasesAtAll(t *testing.T) {
	cs := &mockChallengeStore{}
	pc := &mockPhraseCatalog{}
	us := &mockUserStore{}

	us.On("Get", mock.Anything, "u1").Return(&domain.User{UserID: "u1"}, nil)
	cs.On("CountActive", mock.Anything, "u1").Return(0, nil)
	cs.On("CountRecent", mock.Anything, "u1", mock.Anything).Return(0, nil)
	pc.On("RecentPhraseIDs", mock.Anything, "u1", 50, mock.Anything).Return([]string(nil), nil)
	pc.On("FindRandom", mock.Anything, 1, "hard", mock.Anything).Return(nil, nil)

	svc := newService(cs, pc, us, &mockAuditSink{})
	_, err := svc.CreateBatch(context.Background(), "u1", 1, "hard", "verification")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCreateBatch_ExpiryMonotoneInDifficulty(t *testing.T) {
	easy := domain.ChallengeTimeout(domain.DifficultyEasy)
	medium := domain.ChallengeTimeout(domain.DifficultyMedium)
	hard := domain.ChallengeTimeout(domain.DifficultyHard)
	assert.Less(t, easy, medium)
	assert.Less(t, medium, hard)
}

func TestCreateBatch_ZeroCount(t *testing.T) {
	svc := newService(&mockChallengeStore{}, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	_, err := svc.CreateBatch(context.Background(), "u1", 0, "medium", "verification")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
}

// --- ValidateStrict ---

func activeChallenge(id, userID string) *domain.Challenge {
	now := time.Now().UTC()
	return &domain.Challenge{
		ChallengeID: id,
		UserID:      userID,
		PhraseID:    "p1",
		PhraseText:  "say p1",
		Difficulty:  "medium",
		CreatedAt:   now,
		ExpiresAt:   now.Add(3 * time.Minute),
	}
}

func TestValidateStrict_Valid(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "c1").Return(activeChallenge("c1", "u1"), nil)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	check, err := svc.ValidateStrict(context.Background(), "c1", "u1")

	require.NoError(t, err)
	assert.True(t, check.Valid)
	require.NotNil(t, check.Challenge)
	assert.Equal(t, "say p1", check.Challenge.PhraseText)
}

func TestValidateStrict_NotFound(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "missing").Return(nil, domain.ErrNotFound)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	check, err := svc.ValidateStrict(context.Background(), "missing", "u1")

	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, domain.CheckNotFound, check.Reason)
}

func TestValidateStrict_WrongOwnerBeforeUsed(t *testing.T) {
	// Used AND foreign: ownership must be reported, not consumption.
	c := activeChallenge("c1", "someone-else")
	used := time.Now().UTC()
	c.UsedAt = &used

	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "c1").Return(c, nil)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	check, err := svc.ValidateStrict(context.Background(), "c1", "u1")

	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, domain.CheckWrongOwner, check.Reason)
}

func TestValidateStrict_UsedIsPermanent(t *testing.T) {
	c := activeChallenge("c1", "u1")
	used := time.Now().UTC()
	c.UsedAt = &used

	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "c1").Return(c, nil)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	// Repeated validation always yields the same negative.
	for i := 0; i < 3; i++ {
		check, err := svc.ValidateStrict(context.Background(), "c1", "u1")
		require.NoError(t, err)
		assert.False(t, check.Valid)
		assert.Equal(t, domain.CheckUsed, check.Reason)
	}
}

func TestValidateStrict_ExpiredUnused(t *testing.T) {
	c := activeChallenge("c1", "u1")
	c.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
	c.ExpiresAt = time.Now().UTC().Add(-7 * time.Minute)

	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "c1").Return(c, nil)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	check, err := svc.ValidateStrict(context.Background(), "c1", "u1")

	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.Equal(t, domain.CheckExpired, check.Reason)
}

func TestValidateStrict_UsedBeforeExpired(t *testing.T) {
	// Used AND expired: consumption is reported first.
	c := activeChallenge("c1", "u1")
	used := time.Now().UTC().Add(-8 * time.Minute)
	c.UsedAt = &used
	c.ExpiresAt = time.Now().UTC().Add(-5 * time.Minute)

	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "c1").Return(c, nil)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	check, err := svc.ValidateStrict(context.Background(), "c1", "u1")

	require.NoError(t, err)
	assert.Equal(t, domain.CheckUsed, check.Reason)
}

func TestValidateStrict_StorageFaultIsError(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("Get", mock.Anything, "c1").Return(nil, errors.New("dynamo down"))

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	_, err := svc.ValidateStrict(context.Background(), "c1", "u1")
	require.Error(t, err)
}

// --- MarkUsed / cleanup ---

func TestMarkUsed_PropagatesConflict(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("MarkUsed", mock.Anything, "c1", mock.Anything).Return(domain.ErrConflict)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})
	err := svc.MarkUsed(context.Background(), "c1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestCleanup(t *testing.T) {
	cs := &mockChallengeStore{}
	cs.On("DeleteExpired", mock.Anything, mock.Anything).Return(4, nil)
	cs.On("DeleteUsed", mock.Anything, mock.Anything).Return(2, nil)

	svc := newService(cs, &mockPhraseCatalog{}, &mockUserStore{}, &mockAuditSink{})

	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = svc.CleanupUsed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
