package exam

import (
	"fmt"

	"github.com/stemsi/classroom-exam/internal/model"
)

const placeholderAnswers = 4

// PlaceholderQuestions generates count local questions for category. They are
// used only when no supplier can provide real ones; callers mark the
// classroom accordingly.
func PlaceholderQuestions(r Rand, category string, count int) []model.Question {
	out := make([]model.Question, count)
	for i := range out {
		n := i + 1
		out[i] = model.Question{
			ID:            fmt.Sprintf("q%d", n),
			Question:      fmt.Sprintf("Sample %s question %d?", category, n),
			Answers:       []string{"Answer A", "Answer B", "Answer C", "Answer D"},
			CorrectAnswer: r.IntN(placeholderAnswers),
			Category:      category,
		}
	}
	return out
}

// ValidateQuestions checks that a supplied question set can be used: ids are
// unique and non-empty, each question has at least two answers and a correct
// index in range.
func ValidateQuestions(questions []model.Question) error {
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return fmt.Errorf("question %d: empty id: %w", i, ErrInvalidInput)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("question %s: duplicate id: %w", q.ID, ErrInvalidInput)
		}
		seen[q.ID] = struct{}{}
		if len(q.Answers) < 2 {
			return fmt.Errorf("question %s: needs at least 2 answers: %w", q.ID, ErrInvalidInput)
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Answers) {
			return fmt.Errorf("question %s: correct answer %d out of range: %w", q.ID, q.CorrectAnswer, ErrInvalidInput)
		}
	}
	return nil
}
