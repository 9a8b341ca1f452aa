package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/classroom-exam/internal/model"
)

// QuestionRepository handles the stored question bank.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListCategories returns every category ordered by id.
func (r *QuestionRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var (
			id int
			c  model.Category
		)
		if err := rows.Scan(&id, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		c.ID = strconv.Itoa(id)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// RandomByCategory draws up to limit random questions of a category, matched
// by name (case-insensitive) or id.
func (r *QuestionRepository) RandomByCategory(ctx context.Context, category string, limit int) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT q.id, q.question_text, q.answers, q.correct_answer, c.name
		 FROM questions q
		 JOIN categories c ON c.id = q.category_id
		 WHERE LOWER(c.name) = LOWER($1) OR c.id::text = $1
		 ORDER BY random()
		 LIMIT $2`, category, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q       model.Question
			answers []byte
		)
		if err := rows.Scan(&q.ID, &q.Question, &answers, &q.CorrectAnswer, &q.Category); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(answers, &q.Answers); err != nil {
			return nil, fmt.Errorf("decode answers of question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpsertCategory returns the id of the named category, creating it if needed.
func (r *QuestionRepository) UpsertCategory(ctx context.Context, name, description string) (int, error) {
	var id int
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name, description) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET description = COALESCE(NULLIF(EXCLUDED.description, ''), categories.description)
		 RETURNING id`, name, description,
	).Scan(&id)
	return id, err
}

// Create inserts a question into a category and fills its generated id.
func (r *QuestionRepository) Create(ctx context.Context, categoryID int, q *model.Question) error {
	answers, err := json.Marshal(q.Answers)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (category_id, question_text, answers, correct_answer)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		categoryID, q.Question, answers, q.CorrectAnswer,
	).Scan(&q.ID)
}
