package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AnswerRecord is one mirrored answer.
type AnswerRecord struct {
	ClassroomID    string
	StudentID      string
	StudentName    string
	QuestionID     string
	AnswerIndex    int
	CanonicalIndex int
	SubmittedAt    time.Time
}

// AnswerRepository mirrors live answers into PostgreSQL.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert creates or replaces the answer of a student to a question. A stale
// event never overwrites a newer one.
func (r *AnswerRepository) Upsert(ctx context.Context, a *AnswerRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO student_answers
			(classroom_id, student_id, student_name, question_id, answer_index, canonical_index, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (classroom_id, student_id, question_id) DO UPDATE
		 SET answer_index = EXCLUDED.answer_index,
		     canonical_index = EXCLUDED.canonical_index,
		     submitted_at = EXCLUDED.submitted_at,
		     updated_at = NOW()
		 WHERE student_answers.submitted_at <= EXCLUDED.submitted_at`,
		a.ClassroomID, a.StudentID, a.StudentName, a.QuestionID, a.AnswerIndex, a.CanonicalIndex, a.SubmittedAt,
	)
	return err
}
