package websocket

import "github.com/stemsi/classroom-exam/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionState  Action = "state"
	ActionPing   Action = "ping"
)

// RequestPayload is every client message. Only answer uses the answer fields.
type RequestPayload struct {
	Action      Action `json:"action"`
	QuestionID  string `json:"question_id,omitempty"`
	AnswerIndex *int   `json:"answer_index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError Event = "error"
	EventSaved Event = "saved"
	EventState Event = "state"
	EventEnded Event = "ended"
	EventPong  Event = "pong"
)

type SavedResponse struct {
	Event       Event  `json:"event"`
	QuestionID  string `json:"question_id"`
	AnswerIndex int    `json:"answer_index"`
}

// StateResponse carries the student's paper. It is sent on connect, on
// request, and with EventEnded once the classroom is scored.
type StateResponse struct {
	Event Event               `json:"event"`
	Paper *model.StudentPaper `json:"paper"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
