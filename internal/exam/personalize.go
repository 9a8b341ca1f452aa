package exam

import "github.com/stemsi/classroom-exam/internal/model"

// NewStudentRecord builds the personalized record for a student joining a
// classroom: a random question order plus an independent random answer order
// per question.
func NewStudentRecord(r Rand, questions []model.Question, studentID, name string, joinedAt int64) *model.StudentRecord {
	ids := make([]string, len(questions))
	orders := make(map[string][]int, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
		orders[q.ID] = Permutation(r, len(q.Answers))
	}

	return &model.StudentRecord{
		StudentID:     studentID,
		StudentName:   name,
		Answers:       map[string]int{},
		QuestionOrder: ShuffleIDs(r, ids),
		AnswerOrders:  orders,
		JoinedAt:      joinedAt,
	}
}

// Paper renders the student's view of the classroom. Correct answers are not
// included.
func Paper(c *model.Classroom, rec *model.StudentRecord) []model.PaperQuestion {
	out := make([]model.PaperQuestion, 0, len(rec.QuestionOrder))
	for _, qid := range rec.QuestionOrder {
		q, ok := c.Question(qid)
		if !ok {
			continue
		}
		order := rec.AnswerOrders[qid]
		answers := make([]string, 0, len(order))
		for _, canonical := range order {
			if canonical >= 0 && canonical < len(q.Answers) {
				answers = append(answers, q.Answers[canonical])
			}
		}
		pq := model.PaperQuestion{ID: q.ID, Question: q.Question, Answers: answers}
		if idx, ok := rec.Answers[qid]; ok {
			sel := idx
			pq.Selected = &sel
		}
		out = append(out, pq)
	}
	return out
}
