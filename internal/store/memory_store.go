package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/model"
)

// MemoryStore keeps classrooms in process memory. It backs the
// STORE_DRIVER=memory configuration and unit tests.
type MemoryStore struct {
	mu         sync.RWMutex
	classrooms map[string]*model.Classroom
	codes      map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		classrooms: make(map[string]*model.Classroom),
		codes:      make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, c *model.Classroom) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[c.Code]; taken {
		return exam.ErrCodeTaken
	}
	if _, exists := s.classrooms[c.ID]; exists {
		return fmt.Errorf("classroom %s already exists: %w", c.ID, exam.ErrInvalidInput)
	}
	s.classrooms[c.ID] = c.Clone()
	s.codes[c.Code] = c.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Classroom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.classrooms[id]
	if !ok {
		return nil, exam.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetByCode(ctx context.Context, code string) (*model.Classroom, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return nil, exam.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *MemoryStore) List(_ context.Context) ([]*model.Classroom, error) {
	return s.collect(func(*model.Classroom) bool { return true }, false), nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]*model.Classroom, error) {
	return s.collect(func(c *model.Classroom) bool { return c.IsActive }, false), nil
}

func (s *MemoryStore) ListByTeacher(_ context.Context, teacherID string) ([]*model.Classroom, error) {
	return s.collect(func(c *model.Classroom) bool { return c.TeacherID == teacherID }, true), nil
}

func (s *MemoryStore) collect(keep func(*model.Classroom) bool, full bool) []*model.Classroom {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Classroom, 0, len(s.classrooms))
	for _, c := range s.classrooms {
		if !keep(c) {
			continue
		}
		if full {
			out = append(out, c.Clone())
		} else {
			out = append(out, c.Header())
		}
	}
	sortNewestFirst(out)
	return out
}

func (s *MemoryStore) AddStudent(_ context.Context, classroomID string, rec *model.StudentRecord) (*model.StudentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.classrooms[classroomID]
	if !ok {
		return nil, false, exam.ErrNotFound
	}
	if existing, ok := c.StudentAnswers[rec.StudentID]; ok {
		return existing.Clone(), false, nil
	}
	if !c.IsActive {
		return nil, false, exam.ErrSessionEnded
	}
	c.StudentAnswers[rec.StudentID] = rec.Clone()
	return rec.Clone(), true, nil
}

func (s *MemoryStore) SetAnswer(_ context.Context, classroomID, studentID, questionID string, idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.classrooms[classroomID]
	if !ok {
		return exam.ErrNotFound
	}
	if !c.IsActive {
		return exam.ErrSessionEnded
	}
	rec, ok := c.StudentAnswers[studentID]
	if !ok {
		return exam.ErrStudentNotFound
	}
	rec.Answers[questionID] = idx
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, classroomID string, fn FinishFunc) (*model.Classroom, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.classrooms[classroomID]
	if !ok {
		return nil, false, exam.ErrNotFound
	}
	snapshot := c.Clone()
	changed, err := fn(snapshot)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return c.Clone(), false, nil
	}
	s.classrooms[classroomID] = snapshot.Clone()
	return snapshot, true, nil
}

func sortNewestFirst(cs []*model.Classroom) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].StartTime != cs[j].StartTime {
			return cs[i].StartTime > cs[j].StartTime
		}
		return cs[i].ID < cs[j].ID
	})
}
