package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/answersync"
	"github.com/stemsi/classroom-exam/internal/archive"
	"github.com/stemsi/classroom-exam/internal/broadcast"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/remote"
	"github.com/stemsi/classroom-exam/internal/store"
	"github.com/stemsi/classroom-exam/internal/supplier"
)

// ErrNotOwner is returned when a teacher touches another teacher's classroom.
var ErrNotOwner = errors.New("not the owner of this classroom")

const (
	codeAttempts   = 5
	syncTimeout    = 5 * time.Second
	publishTimeout = 2 * time.Second
	archiveTimeout = 5 * time.Second
)

// ClassroomService is the exam session engine: it creates classrooms, lets
// students join and answer, and ends and scores classrooms.
type ClassroomService struct {
	store     store.Store
	questions *supplier.Fallback
	syncer    answersync.AnswerSyncer
	broker    broadcast.Broker
	archiver  archive.Archiver
	rand      exam.Rand
	now       func() time.Time
	log       zerolog.Logger

	inflight sync.WaitGroup
}

// ClassroomOption customizes a ClassroomService.
type ClassroomOption func(*ClassroomService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ClassroomOption {
	return func(s *ClassroomService) { s.now = now }
}

// WithRand replaces the randomness source used for codes and shuffles.
func WithRand(r exam.Rand) ClassroomOption {
	return func(s *ClassroomService) { s.rand = r }
}

// NewClassroomService creates a new ClassroomService.
func NewClassroomService(
	st store.Store,
	questions *supplier.Fallback,
	syncer answersync.AnswerSyncer,
	broker broadcast.Broker,
	archiver archive.Archiver,
	log zerolog.Logger,
	opts ...ClassroomOption,
) *ClassroomService {
	s := &ClassroomService{
		store:     st,
		questions: questions,
		syncer:    syncer,
		broker:    broker,
		archiver:  archiver,
		rand:      exam.NewLockedRand(nil),
		now:       time.Now,
		log:       logger.Component(log, "classroom_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.syncer == nil {
		s.syncer = answersync.Noop{}
	}
	if s.archiver == nil {
		s.archiver = archive.Noop{}
	}
	return s
}

// JoinResult is returned to a student joining a classroom.
type JoinResult struct {
	Classroom   model.ClassroomSummary `json:"classroom"`
	StudentID   string                 `json:"studentId"`
	StudentName string                 `json:"studentName"`
	Rejoined    bool                   `json:"rejoined"`
}

// CreateSession creates an active classroom for a teacher. Questions come from
// the supplier, or from the placeholder generator when it is unavailable.
func (s *ClassroomService) CreateSession(ctx context.Context, teacherID, teacherName, category string, durationMinutes, questionCount int) (*model.Classroom, error) {
	category = strings.TrimSpace(category)
	switch {
	case teacherID == "":
		return nil, fmt.Errorf("teacher id is required: %w", exam.ErrInvalidInput)
	case category == "":
		return nil, fmt.Errorf("category is required: %w", exam.ErrInvalidInput)
	case durationMinutes <= 0:
		return nil, fmt.Errorf("duration must be positive: %w", exam.ErrInvalidInput)
	case questionCount <= 0:
		return nil, fmt.Errorf("question count must be positive: %w", exam.ErrInvalidInput)
	}

	questions, fallback, err := s.questions.Questions(ctx, category, questionCount)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}

	start := s.now().UnixMilli()
	c := &model.Classroom{
		ID:                uuid.NewString(),
		TeacherID:         teacherID,
		TeacherName:       teacherName,
		Category:          category,
		Duration:          durationMinutes,
		QuestionCount:     questionCount,
		Questions:         questions,
		StartTime:         start,
		EndTime:           start + int64(durationMinutes)*60000,
		IsActive:          true,
		FallbackQuestions: fallback,
		StudentAnswers:    map[string]*model.StudentRecord{},
	}

	for attempt := 1; ; attempt++ {
		c.Code = exam.GenerateCode(s.rand)
		err = s.store.Create(ctx, c)
		if err == nil {
			break
		}
		if !errors.Is(err, exam.ErrCodeTaken) || attempt == codeAttempts {
			return nil, fmt.Errorf("create classroom: %w", err)
		}
	}

	s.log.Info().
		Str("classroom_id", c.ID).
		Str("code", c.Code).
		Str("category", category).
		Int("questions", len(questions)).
		Bool("fallback_questions", fallback).
		Msg("Classroom created")

	s.publish(broadcast.Event{Type: broadcast.EventClassroomCreated, ClassroomID: c.ID})
	return c, nil
}

// JoinSession adds a student to the active classroom with the given code.
// Joining again with the same name returns the existing record unchanged.
func (s *ClassroomService) JoinSession(ctx context.Context, code, studentName string) (*JoinResult, error) {
	name := strings.TrimSpace(studentName)
	if name == "" {
		return nil, fmt.Errorf("student name is required: %w", exam.ErrInvalidInput)
	}
	code = exam.NormalizeCode(code)
	if !exam.ValidCode(code) {
		return nil, exam.ErrNotFound
	}

	c, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.AcceptingAt(s.now()) {
		return nil, exam.ErrSessionEnded
	}

	studentID := exam.StudentID(code, name)
	if _, ok := c.StudentAnswers[studentID]; ok {
		return &JoinResult{Classroom: c.Summary(), StudentID: studentID, StudentName: name, Rejoined: true}, nil
	}

	rec := exam.NewStudentRecord(s.rand, c.Questions, studentID, name, s.now().UnixMilli())
	stored, created, err := s.store.AddStudent(ctx, c.ID, rec)
	if err != nil {
		return nil, fmt.Errorf("add student: %w", err)
	}

	summary := c.Summary()
	if created {
		summary.StudentCount++
		s.log.Info().Str("classroom_id", c.ID).Str("student_id", studentID).Msg("Student joined")
		s.publish(broadcast.Event{
			Type:        broadcast.EventStudentJoined,
			ClassroomID: c.ID,
			StudentID:   studentID,
			StudentName: name,
		})
	}
	return &JoinResult{Classroom: summary, StudentID: stored.StudentID, StudentName: stored.StudentName, Rejoined: !created}, nil
}

// SubmitAnswer records a student's shuffled answer index for a question. The
// local write is synchronous; mirroring to the answer syncer is best-effort.
func (s *ClassroomService) SubmitAnswer(ctx context.Context, classroomID, studentID, questionID string, shuffledIdx int) error {
	c, err := s.store.Get(ctx, classroomID)
	if err != nil {
		return err
	}
	if !c.AcceptingAt(s.now()) {
		return exam.ErrSessionEnded
	}
	rec, ok := c.StudentAnswers[studentID]
	if !ok {
		return exam.ErrStudentNotFound
	}
	if _, ok := c.Question(questionID); !ok {
		return fmt.Errorf("question %q is not part of this classroom: %w", questionID, exam.ErrInvalidInput)
	}
	canonical, ok := exam.CanonicalAnswer(rec, questionID, shuffledIdx)
	if !ok {
		return fmt.Errorf("answer index %d out of range: %w", shuffledIdx, exam.ErrInvalidInput)
	}

	if err := s.store.SetAnswer(ctx, classroomID, studentID, questionID, shuffledIdx); err != nil {
		return err
	}

	now := s.now().UnixMilli()
	s.syncAnswer(remote.TokenFrom(ctx), answersync.AnswerEvent{
		ClassroomID:    classroomID,
		StudentID:      studentID,
		StudentName:    rec.StudentName,
		QuestionID:     questionID,
		AnswerIndex:    shuffledIdx,
		CanonicalIndex: canonical,
		SubmittedAt:    now,
	})
	s.publish(broadcast.Event{
		Type:        broadcast.EventAnswerSubmitted,
		ClassroomID: classroomID,
		StudentID:   studentID,
		QuestionID:  questionID,
	})
	return nil
}

// EndSession ends a classroom now and scores every student. Ending an ended
// classroom returns it unchanged.
func (s *ClassroomService) EndSession(ctx context.Context, classroomID string) (*model.Classroom, error) {
	c, _, err := s.finish(ctx, classroomID, true)
	return c, err
}

// ReconcileExpired ends every active classroom whose end time has passed,
// keeping its scheduled end time. It returns how many classrooms it ended.
func (s *ClassroomService) ReconcileExpired(ctx context.Context) (int, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active classrooms: %w", err)
	}

	now := s.now()
	ended := 0
	var errs []error
	for _, c := range active {
		if !c.ExpiredAt(now) {
			continue
		}
		_, changed, err := s.finish(ctx, c.ID, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("end classroom %s: %w", c.ID, err))
			continue
		}
		if changed {
			ended++
		}
	}
	return ended, errors.Join(errs...)
}

// finish flips the classroom inactive and scores it in one store transaction.
// early moves the end time to now when it is still in the future.
func (s *ClassroomService) finish(ctx context.Context, classroomID string, early bool) (*model.Classroom, bool, error) {
	c, changed, err := s.store.Finish(ctx, classroomID, func(c *model.Classroom) (bool, error) {
		if !c.IsActive && c.Scored {
			return false, nil
		}
		if now := s.now().UnixMilli(); early && now < c.EndTime {
			c.EndTime = now
		}
		c.IsActive = false
		exam.ApplyScores(c)
		c.Scored = true
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return c, false, nil
	}

	s.log.Info().
		Str("classroom_id", c.ID).
		Bool("early", early).
		Int("students", len(c.StudentAnswers)).
		Msg("Classroom ended and scored")

	s.publish(broadcast.Event{Type: broadcast.EventClassroomEnded, ClassroomID: c.ID})

	// The end is committed; the hand-off must not die with the caller's request.
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	if err := s.archiver.Archive(archiveCtx, Results(c)); err != nil {
		s.log.Error().Err(err).Str("classroom_id", c.ID).Msg("Failed to archive results")
	}
	return c, true, nil
}

// GetSession returns the full classroom.
func (s *ClassroomService) GetSession(ctx context.Context, classroomID string) (*model.Classroom, error) {
	return s.store.Get(ctx, classroomID)
}

// GetOwnedSession returns the classroom if teacherID owns it.
func (s *ClassroomService) GetOwnedSession(ctx context.Context, classroomID, teacherID string) (*model.Classroom, error) {
	c, err := s.store.Get(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	if c.TeacherID != teacherID {
		return nil, ErrNotOwner
	}
	return c, nil
}

// GetSessionByCode resolves an active classroom by code, ignoring case.
func (s *ClassroomService) GetSessionByCode(ctx context.Context, code string) (*model.Classroom, error) {
	code = exam.NormalizeCode(code)
	if !exam.ValidCode(code) {
		return nil, exam.ErrNotFound
	}
	c, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, exam.ErrNotFound
	}
	return c, nil
}

// GetProgress returns the answered count of every student.
func (s *ClassroomService) GetProgress(ctx context.Context, classroomID string) (*model.Progress, error) {
	c, err := s.store.Get(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	return Progress(c), nil
}

// Progress builds the monitoring view of a classroom snapshot.
func Progress(c *model.Classroom) *model.Progress {
	total := len(c.Questions)
	p := &model.Progress{
		ClassroomID:    c.ID,
		Code:           c.Code,
		IsActive:       c.IsActive,
		EndTime:        c.EndTime,
		TotalQuestions: total,
		Students:       make([]model.StudentProgress, 0, len(c.StudentAnswers)),
	}
	for _, rec := range c.StudentAnswers {
		answered := 0
		for _, q := range c.Questions {
			if _, ok := rec.Answers[q.ID]; ok {
				answered++
			}
		}
		p.Students = append(p.Students, model.StudentProgress{
			StudentID:      rec.StudentID,
			StudentName:    rec.StudentName,
			AnsweredCount:  answered,
			TotalQuestions: total,
			Score:          rec.Score,
		})
	}
	sort.Slice(p.Students, func(i, j int) bool {
		if p.Students[i].StudentName != p.Students[j].StudentName {
			return p.Students[i].StudentName < p.Students[j].StudentName
		}
		return p.Students[i].StudentID < p.Students[j].StudentID
	})
	return p
}

// GetStudentRecord returns one student's record.
func (s *ClassroomService) GetStudentRecord(ctx context.Context, classroomID, studentID string) (*model.StudentRecord, error) {
	c, err := s.store.Get(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	rec, ok := c.StudentAnswers[studentID]
	if !ok {
		return nil, exam.ErrStudentNotFound
	}
	return rec, nil
}

// GetStudentPaper returns the student's personalized questions with their
// current selections.
func (s *ClassroomService) GetStudentPaper(ctx context.Context, classroomID, studentID string) (*model.StudentPaper, error) {
	c, err := s.store.Get(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	rec, ok := c.StudentAnswers[studentID]
	if !ok {
		return nil, exam.ErrStudentNotFound
	}

	now := s.now()
	remaining := float64(c.EndTime-now.UnixMilli()) / 1000
	if remaining < 0 || !c.IsActive {
		remaining = 0
	}
	return &model.StudentPaper{
		ClassroomID:      c.ID,
		StudentID:        rec.StudentID,
		StudentName:      rec.StudentName,
		Category:         c.Category,
		IsActive:         c.AcceptingAt(now),
		EndTime:          c.EndTime,
		RemainingSeconds: remaining,
		Questions:        exam.Paper(c, rec),
		Score:            rec.Score,
		TotalQuestions:   rec.TotalQuestions,
	}, nil
}

// ListTeacherSessions returns a teacher's classrooms, newest first.
func (s *ClassroomService) ListTeacherSessions(ctx context.Context, teacherID string) ([]model.ClassroomSummary, error) {
	cs, err := s.store.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ClassroomSummary, len(cs))
	for i, c := range cs {
		out[i] = c.Summary()
	}
	return out, nil
}

// ListCategories returns the supplier's categories, or the defaults flagged
// as a fallback.
func (s *ClassroomService) ListCategories(ctx context.Context) model.CategoryList {
	return s.questions.Categories(ctx)
}

// Subscribe opens a live event stream for a classroom.
func (s *ClassroomService) Subscribe(ctx context.Context, classroomID string) (broadcast.Subscription, error) {
	if s.broker == nil {
		return nil, fmt.Errorf("live events disabled: %w", exam.ErrCollaboratorUnavailable)
	}
	return s.broker.Subscribe(ctx, classroomID)
}

// Wait blocks until in-flight answer syncs and event publishes have finished.
func (s *ClassroomService) Wait() {
	s.inflight.Wait()
}

func (s *ClassroomService) syncAnswer(token string, ev answersync.AnswerEvent) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(remote.WithToken(context.Background(), token), syncTimeout)
		defer cancel()

		if err := s.syncer.SubmitAnswer(ctx, ev); err != nil {
			s.log.Warn().Err(err).
				Str("classroom_id", ev.ClassroomID).
				Str("student_id", ev.StudentID).
				Str("question_id", ev.QuestionID).
				Msg("Answer sync failed")
		}
	}()
}

func (s *ClassroomService) publish(ev broadcast.Event) {
	if s.broker == nil {
		return
	}
	ev.At = s.now().UnixMilli()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := s.broker.Publish(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("classroom_id", ev.ClassroomID).Str("event", ev.Type).Msg("Event publish failed")
		}
	}()
}

// Results builds the per-student results of a classroom, best score first.
func Results(c *model.Classroom) []model.StudentResult {
	out := make([]model.StudentResult, 0, len(c.StudentAnswers))
	finished := time.UnixMilli(c.EndTime)
	for _, rec := range c.StudentAnswers {
		res := exam.Result(c, rec)
		if !c.IsActive {
			res.FinishedAt = &finished
		}
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].StudentName < out[j].StudentName
	})
	return out
}
