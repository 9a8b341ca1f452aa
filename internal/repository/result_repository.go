package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/classroom-exam/internal/model"
)

// ResultRepository reads and writes archived classroom results.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// ListByClassroom returns the archived results of a teacher's classroom
// ordered by score, best first.
func (r *ResultRepository) ListByClassroom(ctx context.Context, classroomID, teacherID string) ([]model.StudentResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT classroom_id, teacher_id, student_id, student_name, score, total_questions, answers, finished_at
		 FROM classroom_results
		 WHERE classroom_id = $1 AND teacher_id = $2
		 ORDER BY score DESC, student_name`, classroomID, teacherID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []model.StudentResult{}
	for rows.Next() {
		var (
			res      model.StudentResult
			answers  []byte
			finished time.Time
		)
		if err := rows.Scan(&res.ClassroomID, &res.TeacherID, &res.StudentID, &res.StudentName, &res.Score, &res.TotalQuestions, &answers, &finished); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(answers, &res.Answers); err != nil {
			return nil, fmt.Errorf("decode answers of %s: %w", res.StudentID, err)
		}
		res.FinishedAt = &finished
		results = append(results, res)
	}
	return results, rows.Err()
}

// BulkUpsert writes a batch of results with a single UNNEST statement.
func (r *ResultRepository) BulkUpsert(ctx context.Context, batch []model.StudentResult) error {
	n := len(batch)
	if n == 0 {
		return nil
	}

	classroomIDs := make([]string, n)
	teacherIDs := make([]string, n)
	studentIDs := make([]string, n)
	names := make([]string, n)
	scores := make([]int32, n)
	totals := make([]int32, n)
	answers := make([]string, n)
	finishedAts := make([]time.Time, n)

	now := time.Now()
	for i := range batch {
		p := &batch[i]
		raw, err := json.Marshal(p.Answers)
		if err != nil {
			return err
		}
		classroomIDs[i] = p.ClassroomID
		teacherIDs[i] = p.TeacherID
		studentIDs[i] = p.StudentID
		names[i] = p.StudentName
		scores[i] = int32(p.Score)
		totals[i] = int32(p.TotalQuestions)
		answers[i] = string(raw)
		finishedAts[i] = now
		if p.FinishedAt != nil {
			finishedAts[i] = *p.FinishedAt
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO classroom_results
			(classroom_id, teacher_id, student_id, student_name, score, total_questions, answers, finished_at)
		SELECT u.classroom_id, u.teacher_id, u.student_id, u.student_name, u.score, u.total_questions, u.answers::jsonb, u.finished_at
		FROM UNNEST(
			$1::text[],
			$2::text[],
			$3::text[],
			$4::text[],
			$5::int[],
			$6::int[],
			$7::text[],
			$8::timestamptz[]
		) AS u (classroom_id, teacher_id, student_id, student_name, score, total_questions, answers, finished_at)
		ON CONFLICT (classroom_id, student_id) DO UPDATE
		SET student_name = EXCLUDED.student_name,
		    score = EXCLUDED.score,
		    total_questions = EXCLUDED.total_questions,
		    answers = EXCLUDED.answers,
		    finished_at = EXCLUDED.finished_at`,
		classroomIDs, teacherIDs, studentIDs, names, scores, totals, answers, finishedAts,
	)
	return err
}

// Upsert writes one result.
func (r *ResultRepository) Upsert(ctx context.Context, res *model.StudentResult) error {
	return r.BulkUpsert(ctx, []model.StudentResult{*res})
}
