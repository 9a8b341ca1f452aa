package model

// Question is a read-only multiple-choice question as authored.
// CorrectAnswer is the canonical index into Answers.
type Question struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	Answers       []string `json:"answers"`
	CorrectAnswer int      `json:"correctAnswer"`
	Category      string   `json:"category"`
}

// Category groups questions under a topic.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CategoryList is returned to callers that need to know whether the
// remote supplier answered or the built-in defaults were used.
type CategoryList struct {
	Categories []Category `json:"categories"`
	Fallback   bool       `json:"fallback"`
}
