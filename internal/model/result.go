package model

import "time"

// AnswerDetail is one question of a scored student.
type AnswerDetail struct {
	QuestionID     string `json:"questionId"`
	Question       string `json:"question"`
	SelectedAnswer *int   `json:"selectedAnswer,omitempty"`
	CorrectAnswer  int    `json:"correctAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
	SelectedText   string `json:"selectedText,omitempty"`
	CorrectText    string `json:"correctText"`
}

// StudentResult is the final result of one student in a classroom.
type StudentResult struct {
	ClassroomID    string         `json:"classroomId"`
	TeacherID      string         `json:"teacherId,omitempty"`
	StudentID      string         `json:"studentId"`
	StudentName    string         `json:"studentName"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"totalQuestions"`
	Answers        []AnswerDetail `json:"answers"`
	FinishedAt     *time.Time     `json:"finishedAt,omitempty"`
}
