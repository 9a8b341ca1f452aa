package exam

import "github.com/stemsi/classroom-exam/internal/model"

// CanonicalAnswer maps a shuffled answer index back to the authored index.
// ok is false when the student has no order for the question or idx is out of
// range.
func CanonicalAnswer(rec *model.StudentRecord, questionID string, idx int) (int, bool) {
	order, ok := rec.AnswerOrders[questionID]
	if !ok || idx < 0 || idx >= len(order) {
		return 0, false
	}
	return order[idx], true
}

// ScoreStudent counts correct answers over every classroom question.
// Unanswered questions count as wrong.
func ScoreStudent(questions []model.Question, rec *model.StudentRecord) int {
	score := 0
	for _, q := range questions {
		idx, answered := rec.Answers[q.ID]
		if !answered {
			continue
		}
		canonical, ok := CanonicalAnswer(rec, q.ID, idx)
		if ok && canonical == q.CorrectAnswer {
			score++
		}
	}
	return score
}

// ApplyScores writes score and total to every student record of c.
func ApplyScores(c *model.Classroom) {
	total := len(c.Questions)
	for _, rec := range c.StudentAnswers {
		score := ScoreStudent(c.Questions, rec)
		t := total
		rec.Score = &score
		rec.TotalQuestions = &t
	}
}

// Result builds the per-question result of a scored student.
func Result(c *model.Classroom, rec *model.StudentRecord) model.StudentResult {
	res := model.StudentResult{
		ClassroomID:    c.ID,
		TeacherID:      c.TeacherID,
		StudentID:      rec.StudentID,
		StudentName:    rec.StudentName,
		TotalQuestions: len(c.Questions),
		Answers:        make([]model.AnswerDetail, 0, len(c.Questions)),
	}
	for _, q := range c.Questions {
		d := model.AnswerDetail{
			QuestionID:    q.ID,
			Question:      q.Question,
			CorrectAnswer: q.CorrectAnswer,
		}
		if q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Answers) {
			d.CorrectText = q.Answers[q.CorrectAnswer]
		}
		if idx, answered := rec.Answers[q.ID]; answered {
			if canonical, ok := CanonicalAnswer(rec, q.ID, idx); ok {
				sel := canonical
				d.SelectedAnswer = &sel
				d.IsCorrect = canonical == q.CorrectAnswer
				if canonical < len(q.Answers) {
					d.SelectedText = q.Answers[canonical]
				}
			}
		}
		if d.IsCorrect {
			res.Score++
		}
		res.Answers = append(res.Answers, d)
	}
	return res
}
