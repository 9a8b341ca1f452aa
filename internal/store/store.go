// Package store persists live classrooms and their student records.
//
// Implementations guarantee that:
//   - AddStudent never replaces an existing record,
//   - SetAnswer touches a single answer and fails once the classroom is ended,
//   - Finish applies its mutation and the end of the classroom atomically with
//     respect to AddStudent and SetAnswer.
package store

import (
	"context"

	"github.com/stemsi/classroom-exam/internal/model"
)

// FinishFunc mutates a snapshot of the classroom. It returns false when
// nothing needs to be written (the classroom is already ended).
type FinishFunc func(c *model.Classroom) (bool, error)

// Store is the persistence collaborator of the classroom engine.
type Store interface {
	// Create stores a new classroom. It fails with exam.ErrCodeTaken when the
	// code is already used by another classroom.
	Create(ctx context.Context, c *model.Classroom) error
	// Get returns the classroom including every student record and answer.
	Get(ctx context.Context, id string) (*model.Classroom, error)
	// GetByCode resolves an upper-cased code. Ended classrooms are returned too.
	GetByCode(ctx context.Context, code string) (*model.Classroom, error)
	// List returns the headers of every classroom.
	List(ctx context.Context) ([]*model.Classroom, error)
	// ListActive returns the headers of classrooms not yet ended.
	ListActive(ctx context.Context) ([]*model.Classroom, error)
	// ListByTeacher returns a teacher's classrooms, newest first.
	ListByTeacher(ctx context.Context, teacherID string) ([]*model.Classroom, error)
	// AddStudent inserts rec unless a record with the same id exists. It
	// returns the stored record and whether it was created.
	AddStudent(ctx context.Context, classroomID string, rec *model.StudentRecord) (*model.StudentRecord, bool, error)
	// SetAnswer overwrites one answer of one student.
	SetAnswer(ctx context.Context, classroomID, studentID, questionID string, idx int) error
	// Finish runs fn on the latest classroom state and commits the result.
	// It returns the committed (or unchanged) classroom and whether fn changed it.
	Finish(ctx context.Context, classroomID string, fn FinishFunc) (*model.Classroom, bool, error)
}
