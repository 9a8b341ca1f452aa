package model

import "time"

// Classroom is one timed exam instance. Times are unix milliseconds to match
// what browser clients already exchange.
type Classroom struct {
	ID                string                    `json:"id"`
	Code              string                    `json:"code"`
	TeacherID         string                    `json:"teacherId"`
	TeacherName       string                    `json:"teacherName"`
	Category          string                    `json:"category"`
	Duration          int                       `json:"duration"`
	QuestionCount     int                       `json:"questionCount"`
	Questions         []Question                `json:"questions"`
	StartTime         int64                     `json:"startTime"`
	EndTime           int64                     `json:"endTime"`
	IsActive          bool                      `json:"isActive"`
	Scored            bool                      `json:"scored"`
	FallbackQuestions bool                      `json:"fallbackQuestions,omitempty"`
	StudentAnswers    map[string]*StudentRecord `json:"studentAnswers"`
}

// StudentRecord holds one student's personalized view and answers.
// Answers values are indices into the shuffled answer order of the question.
type StudentRecord struct {
	StudentID      string           `json:"studentId"`
	StudentName    string           `json:"studentName"`
	Answers        map[string]int   `json:"answers"`
	QuestionOrder  []string         `json:"questionOrder"`
	AnswerOrders   map[string][]int `json:"answerOrders"`
	Score          *int             `json:"score,omitempty"`
	TotalQuestions *int             `json:"totalQuestions,omitempty"`
	JoinedAt       int64            `json:"joinedAt"`
}

// Question returns the classroom question with the given id.
func (c *Classroom) Question(id string) (Question, bool) {
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// ExpiredAt reports whether the scheduled end has passed at now.
func (c *Classroom) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() >= c.EndTime
}

// AcceptingAt reports whether the classroom still accepts joins and answers.
func (c *Classroom) AcceptingAt(now time.Time) bool {
	return c.IsActive && !c.ExpiredAt(now)
}

// Header returns a copy without student records.
func (c *Classroom) Header() *Classroom {
	h := *c
	h.Questions = append([]Question(nil), c.Questions...)
	h.StudentAnswers = map[string]*StudentRecord{}
	return &h
}

// Clone returns a deep copy.
func (c *Classroom) Clone() *Classroom {
	out := c.Header()
	for id, rec := range c.StudentAnswers {
		out.StudentAnswers[id] = rec.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (r *StudentRecord) Clone() *StudentRecord {
	out := *r
	out.Answers = make(map[string]int, len(r.Answers))
	for k, v := range r.Answers {
		out.Answers[k] = v
	}
	out.QuestionOrder = append([]string(nil), r.QuestionOrder...)
	out.AnswerOrders = make(map[string][]int, len(r.AnswerOrders))
	for k, v := range r.AnswerOrders {
		out.AnswerOrders[k] = append([]int(nil), v...)
	}
	if r.Score != nil {
		s := *r.Score
		out.Score = &s
	}
	if r.TotalQuestions != nil {
		t := *r.TotalQuestions
		out.TotalQuestions = &t
	}
	return &out
}

// ClassroomSummary is the public view of a classroom, safe for students.
type ClassroomSummary struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	TeacherName   string `json:"teacherName"`
	Category      string `json:"category"`
	Duration      int    `json:"duration"`
	QuestionCount int    `json:"questionCount"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	IsActive      bool   `json:"isActive"`
	StudentCount  int    `json:"studentCount"`
}

// Summary builds the public view.
func (c *Classroom) Summary() ClassroomSummary {
	return ClassroomSummary{
		ID:            c.ID,
		Code:          c.Code,
		TeacherName:   c.TeacherName,
		Category:      c.Category,
		Duration:      c.Duration,
		QuestionCount: c.QuestionCount,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
		IsActive:      c.IsActive,
		StudentCount:  len(c.StudentAnswers),
	}
}

// StudentProgress is one row of the live monitoring view.
type StudentProgress struct {
	StudentID      string `json:"studentId"`
	StudentName    string `json:"studentName"`
	AnsweredCount  int    `json:"answeredCount"`
	TotalQuestions int    `json:"totalQuestions"`
	Score          *int   `json:"score,omitempty"`
}

// Progress is the live monitoring view of a classroom.
type Progress struct {
	ClassroomID    string            `json:"classroomId"`
	Code           string            `json:"code"`
	IsActive       bool              `json:"isActive"`
	EndTime        int64             `json:"endTime"`
	TotalQuestions int               `json:"totalQuestions"`
	Students       []StudentProgress `json:"students"`
}

// PaperQuestion is a question as one student sees it: answers already in the
// student's shuffled order, without the correct answer.
type PaperQuestion struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Answers  []string `json:"answers"`
	Selected *int     `json:"selected,omitempty"`
}

// StudentPaper is the personalized exam paper of one student.
type StudentPaper struct {
	ClassroomID      string          `json:"classroomId"`
	StudentID        string          `json:"studentId"`
	StudentName      string          `json:"studentName"`
	Category         string          `json:"category"`
	IsActive         bool            `json:"isActive"`
	EndTime          int64           `json:"endTime"`
	RemainingSeconds float64         `json:"remainingSeconds"`
	Questions        []PaperQuestion `json:"questions"`
	Score            *int            `json:"score,omitempty"`
	TotalQuestions   *int            `json:"totalQuestions,omitempty"`
}

// CreateClassroomRequest is the payload for a teacher creating a classroom.
type CreateClassroomRequest struct {
	Category      string `json:"category" binding:"required,min=1,max=100"`
	Duration      int    `json:"duration" binding:"required,min=1,max=600"`
	QuestionCount int    `json:"question_count" binding:"required,min=1,max=200"`
}

// JoinClassroomRequest is the payload for a student joining by code.
type JoinClassroomRequest struct {
	Code string `json:"code" binding:"required,classcode"`
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// SubmitAnswerRequest is the payload for a student answering one question.
// AnswerIndex is the position in the student's shuffled answer list.
type SubmitAnswerRequest struct {
	QuestionID  string `json:"question_id" binding:"required,max=100"`
	AnswerIndex *int   `json:"answer_index" binding:"required,min=0"`
}
