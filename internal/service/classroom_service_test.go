package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/classroom-exam/internal/answersync"
	"github.com/stemsi/classroom-exam/internal/broadcast"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/store"
	"github.com/stemsi/classroom-exam/internal/supplier"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticSupplier struct {
	questions []model.Question
	err       error
}

func (s *staticSupplier) ListCategories(context.Context) ([]model.Category, error) {
	return nil, s.err
}

func (s *staticSupplier) FetchQuestions(_ context.Context, _ string, count int) ([]model.Question, error) {
	if s.err != nil {
		return nil, s.err
	}
	if count > len(s.questions) {
		return nil, supplier.ErrNotEnoughQuestions
	}
	return s.questions[:count], nil
}

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SubmitAnswer(ctx context.Context, ev answersync.AnswerEvent) error {
	return m.Called(ev).Error(0)
}

type fixture struct {
	svc    *ClassroomService
	store  *store.MemoryStore
	clock  *fakeClock
	broker *broadcast.MemoryBroker
}

func newFixture(t *testing.T, src supplier.Supplier, syncer answersync.AnswerSyncer) *fixture {
	t.Helper()
	r := exam.NewLockedRand(rand.New(rand.NewPCG(11, 29)))
	f := &fixture{
		store:  store.NewMemoryStore(),
		clock:  newFakeClock(),
		broker: broadcast.NewMemoryBroker(),
	}
	f.svc = NewClassroomService(
		f.store,
		supplier.NewFallback(src, r, zerolog.Nop()),
		syncer,
		f.broker,
		nil,
		zerolog.Nop(),
		WithClock(f.clock.Now),
		WithRand(r),
	)
	t.Cleanup(f.svc.Wait)
	return f
}

func pickC() []model.Question {
	return []model.Question{{
		ID:            "q1",
		Question:      "Which letter is C?",
		Answers:       []string{"A", "B", "C", "D"},
		CorrectAnswer: 2,
		Category:      "Algebra",
	}}
}

// seatStudent stores a record with a fixed answer order so scoring can be
// checked against a known mapping.
func seatStudent(t *testing.T, f *fixture, c *model.Classroom, name string, order []int) string {
	t.Helper()
	id := exam.StudentID(c.Code, name)
	_, created, err := f.store.AddStudent(context.Background(), c.ID, &model.StudentRecord{
		StudentID:     id,
		StudentName:   name,
		Answers:       map[string]int{},
		QuestionOrder: []string{"q1"},
		AnswerOrders:  map[string][]int{"q1": order},
	})
	require.NoError(t, err)
	require.True(t, created)
	return id
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)

	c, err := f.svc.CreateSession(context.Background(), "t1", "Ms. Rivera", "Algebra", 30, 1)
	require.NoError(t, err)

	assert.Len(t, c.Code, exam.CodeLength)
	assert.Equal(t, strings.ToUpper(c.Code), c.Code)
	assert.True(t, c.IsActive)
	assert.False(t, c.FallbackQuestions)
	assert.Equal(t, c.StartTime+30*60000, c.EndTime)
	assert.Empty(t, c.StudentAnswers)

	stored, err := f.svc.GetSession(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Code, stored.Code)
}

func TestCreateSession_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for name, call := range map[string]func() error{
		"zero duration":  func() error { _, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 0, 5); return err },
		"zero questions": func() error { _, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 5, 0); return err },
		"no category":    func() error { _, err := f.svc.CreateSession(ctx, "t1", "T", "  ", 5, 5); return err },
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, call(), exam.ErrInvalidInput)
		})
	}

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateSession_FallbackQuestionsWhenSupplierUnreachable(t *testing.T) {
	f := newFixture(t, &staticSupplier{err: exam.ErrCollaboratorUnavailable}, nil)

	c, err := f.svc.CreateSession(context.Background(), "t1", "T", "Geometry", 10, 7)
	require.NoError(t, err)

	assert.True(t, c.FallbackQuestions)
	require.Len(t, c.Questions, 7)
	for _, q := range c.Questions {
		assert.GreaterOrEqual(t, q.CorrectAnswer, 0)
		assert.Less(t, q.CorrectAnswer, len(q.Answers))
		assert.Equal(t, "Geometry", q.Category)
	}
}

func TestJoinSession_IsIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 8)
	require.NoError(t, err)

	first, err := f.svc.JoinSession(ctx, c.Code, "Ana")
	require.NoError(t, err)
	assert.False(t, first.Rejoined)
	before, err := f.svc.GetStudentRecord(ctx, c.ID, first.StudentID)
	require.NoError(t, err)

	second, err := f.svc.JoinSession(ctx, strings.ToLower(c.Code), " Ana ")
	require.NoError(t, err)
	assert.True(t, second.Rejoined)
	assert.Equal(t, first.StudentID, second.StudentID)

	after, err := f.svc.GetStudentRecord(ctx, c.ID, second.StudentID)
	require.NoError(t, err)
	assert.Equal(t, before.QuestionOrder, after.QuestionOrder)
	assert.Equal(t, before.AnswerOrders, after.AnswerOrders)

	got, err := f.svc.GetSession(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.StudentAnswers, 1)
}

func TestJoinSession_RecordsArePermutations(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 12)
	require.NoError(t, err)

	ids := make([]string, len(c.Questions))
	for i, q := range c.Questions {
		ids[i] = q.ID
	}

	for _, name := range []string{"Ana", "Budi", "Citra", "Dewi", "Eko"} {
		res, err := f.svc.JoinSession(ctx, c.Code, name)
		require.NoError(t, err)
		rec, err := f.svc.GetStudentRecord(ctx, c.ID, res.StudentID)
		require.NoError(t, err)

		assert.True(t, exam.SameIDs(ids, rec.QuestionOrder), name)
		for _, q := range c.Questions {
			assert.True(t, exam.IsPermutation(rec.AnswerOrders[q.ID], len(q.Answers)), "%s %s", name, q.ID)
		}
	}
}

func TestJoinSession_Errors(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.JoinSession(ctx, "ZZZZZZ", "Ana")
	assert.ErrorIs(t, err, exam.ErrNotFound)

	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 3)
	require.NoError(t, err)

	_, err = f.svc.JoinSession(ctx, c.Code, "   ")
	assert.ErrorIs(t, err, exam.ErrInvalidInput)

	_, err = f.svc.EndSession(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.svc.JoinSession(ctx, c.Code, "Late")
	assert.ErrorIs(t, err, exam.ErrSessionEnded)
}

func TestJoinSession_ExpiredButNotYetReconciled(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 1, 3)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)
	_, err = f.svc.JoinSession(ctx, c.Code, "Late")
	assert.ErrorIs(t, err, exam.ErrSessionEnded)
}

func TestScoring_ShuffledIndexRoundTrip(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})

	paper, err := f.svc.GetStudentPaper(ctx, c.ID, sid)
	require.NoError(t, err)
	assert.Equal(t, "C", paper.Questions[0].Answers[0])

	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 0))
	ended, err := f.svc.EndSession(ctx, c.ID)
	require.NoError(t, err)

	rec := ended.StudentAnswers[sid]
	require.NotNil(t, rec.Score)
	assert.Equal(t, 1, *rec.Score)
	assert.Equal(t, 1, *rec.TotalQuestions)
}

func TestScoring_UnansweredCountsAsWrong(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})

	_, err = f.svc.EndSession(ctx, c.ID)
	require.NoError(t, err)

	rec, err := f.svc.GetStudentRecord(ctx, c.ID, sid)
	require.NoError(t, err)
	require.NotNil(t, rec.Score)
	assert.Equal(t, 0, *rec.Score)
	assert.Equal(t, 1, *rec.TotalQuestions)
}

func TestEndSession_IsIdempotent(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})
	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 0))

	f.clock.Advance(2 * time.Minute)
	first, err := f.svc.EndSession(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, first.IsActive)
	assert.Equal(t, f.clock.Now().UnixMilli(), first.EndTime)

	f.clock.Advance(time.Minute)
	second, err := f.svc.EndSession(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, second.IsActive)
	assert.Equal(t, first.EndTime, second.EndTime)
	assert.Equal(t, *first.StudentAnswers[sid].Score, *second.StudentAnswers[sid].Score)

	err = f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 1)
	assert.ErrorIs(t, err, exam.ErrSessionEnded)
}

// recordingArchiver remembers what it was handed and the state of its context.
type recordingArchiver struct {
	results     []model.StudentResult
	ctxErr      error
	hasDeadline bool
}

func (a *recordingArchiver) Archive(ctx context.Context, results []model.StudentResult) error {
	a.results = results
	a.ctxErr = ctx.Err()
	_, a.hasDeadline = ctx.Deadline()
	return a.ctxErr
}

func TestEndSession_ArchivesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)
	archiver := &recordingArchiver{}
	f.svc.archiver = archiver

	c, err := f.svc.CreateSession(context.Background(), "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})
	require.NoError(t, f.svc.SubmitAnswer(context.Background(), c.ID, sid, "q1", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ended, err := f.svc.EndSession(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, ended.IsActive)

	assert.NoError(t, archiver.ctxErr)
	assert.True(t, archiver.hasDeadline)
	require.Len(t, archiver.results, 1)
	assert.Equal(t, sid, archiver.results[0].StudentID)
	assert.Equal(t, 1, archiver.results[0].Score)
}

func TestReconcileExpired_EndsAndScoresOnce(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 1, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})
	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 0))

	n, err := f.svc.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(90 * time.Second)
	n, err = f.svc.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetSession(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.True(t, got.Scored)
	assert.Equal(t, c.EndTime, got.EndTime)
	assert.Equal(t, 1, *got.StudentAnswers[sid].Score)

	n, err = f.svc.ReconcileExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetSessionByCode_IgnoresCase(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	c := &model.Classroom{
		ID: "c1", Code: "ABC123", TeacherID: "t1", Category: "Algebra",
		Questions: pickC(), IsActive: true, EndTime: f.clock.Now().Add(time.Hour).UnixMilli(),
		StudentAnswers: map[string]*model.StudentRecord{},
	}
	require.NoError(t, f.store.Create(ctx, c))

	lower, err := f.svc.GetSessionByCode(ctx, "abc123")
	require.NoError(t, err)
	upper, err := f.svc.GetSessionByCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "c1", lower.ID)
	assert.Equal(t, lower.ID, upper.ID)
	assert.Equal(t, "ABC123", lower.Code)

	_, err = f.svc.EndSession(ctx, "c1")
	require.NoError(t, err)
	_, err = f.svc.GetSessionByCode(ctx, "abc123")
	assert.ErrorIs(t, err, exam.ErrNotFound)
}

func TestSubmitAnswer_Validation(t *testing.T) {
	f := newFixture(t, &staticSupplier{questions: pickC()}, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})

	assert.ErrorIs(t, f.svc.SubmitAnswer(ctx, "missing", sid, "q1", 0), exam.ErrNotFound)
	assert.ErrorIs(t, f.svc.SubmitAnswer(ctx, c.ID, "ghost", "q1", 0), exam.ErrStudentNotFound)
	assert.ErrorIs(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q9", 0), exam.ErrInvalidInput)
	assert.ErrorIs(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 4), exam.ErrInvalidInput)
	assert.ErrorIs(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", -1), exam.ErrInvalidInput)

	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 3))
	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 1))
	rec, err := f.svc.GetStudentRecord(ctx, c.ID, sid)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"q1": 1}, rec.Answers)
}

func TestSubmitAnswer_SyncFailureDoesNotRollBack(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("SubmitAnswer", mock.MatchedBy(func(ev answersync.AnswerEvent) bool {
		return ev.QuestionID == "q1" && ev.AnswerIndex == 0 && ev.CanonicalIndex == 2
	})).Return(errors.New("backend down")).Once()

	f := newFixture(t, &staticSupplier{questions: pickC()}, syncer)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	sid := seatStudent(t, f, c, "Ana", []int{2, 0, 3, 1})

	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, sid, "q1", 0))
	f.svc.Wait()

	syncer.AssertExpectations(t)
	rec, err := f.svc.GetStudentRecord(ctx, c.ID, sid)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Answers["q1"])
}

func TestGetProgress(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 3)
	require.NoError(t, err)
	ana, err := f.svc.JoinSession(ctx, c.Code, "Ana")
	require.NoError(t, err)
	_, err = f.svc.JoinSession(ctx, c.Code, "Budi")
	require.NoError(t, err)

	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, ana.StudentID, c.Questions[0].ID, 0))
	require.NoError(t, f.svc.SubmitAnswer(ctx, c.ID, ana.StudentID, c.Questions[2].ID, 1))

	p, err := f.svc.GetProgress(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	assert.Equal(t, 3, p.TotalQuestions)
	require.Len(t, p.Students, 2)
	assert.Equal(t, "Ana", p.Students[0].StudentName)
	assert.Equal(t, 2, p.Students[0].AnsweredCount)
	assert.Equal(t, 0, p.Students[1].AnsweredCount)
}

func TestListTeacherSessions(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	_, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	second, err := f.svc.CreateSession(ctx, "t1", "T", "Geometry", 10, 1)
	require.NoError(t, err)
	_, err = f.svc.CreateSession(ctx, "t2", "U", "Calculus", 10, 1)
	require.NoError(t, err)

	list, err := f.svc.ListTeacherSessions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = f.svc.GetOwnedSession(ctx, second.ID, "t2")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestListCategories_FallbackIsFlagged(t *testing.T) {
	f := newFixture(t, &staticSupplier{err: exam.ErrCollaboratorUnavailable}, nil)

	list := f.svc.ListCategories(context.Background())
	assert.True(t, list.Fallback)
	assert.Len(t, list.Categories, 5)
}

func TestEvents_PublishedOnJoin(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	c, err := f.svc.CreateSession(ctx, "t1", "T", "Algebra", 10, 1)
	require.NoError(t, err)

	sub, err := f.svc.Subscribe(ctx, c.ID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = f.svc.JoinSession(ctx, c.Code, "Ana")
	require.NoError(t, err)

	select {
	case raw := <-sub.C():
		assert.Contains(t, string(raw), broadcast.EventStudentJoined)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}
