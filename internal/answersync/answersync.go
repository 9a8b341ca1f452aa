// Package answersync mirrors submitted answers to a durable or remote
// destination. The engine calls it after the local write has succeeded and
// never waits on it.
package answersync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/remote"
)

// AnswerEvent is one accepted answer. AnswerIndex is the shuffled index the
// student chose; CanonicalIndex is the authored index it maps to.
type AnswerEvent struct {
	ClassroomID    string `json:"classroomId"`
	StudentID      string `json:"studentId"`
	StudentName    string `json:"studentName"`
	QuestionID     string `json:"questionId"`
	AnswerIndex    int    `json:"answerIndex"`
	CanonicalIndex int    `json:"canonicalIndex"`
	SubmittedAt    int64  `json:"submittedAt"`
}

// AnswerSyncer delivers answer events.
type AnswerSyncer interface {
	SubmitAnswer(ctx context.Context, ev AnswerEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) SubmitAnswer(context.Context, AnswerEvent) error { return nil }

// QueueSyncer pushes events onto persist_answers_queue for the answer
// persist worker.
type QueueSyncer struct {
	rdb *redis.Client
}

func NewQueueSyncer(rdb *redis.Client) *QueueSyncer {
	return &QueueSyncer{rdb: rdb}
}

func (s *QueueSyncer) SubmitAnswer(ctx context.Context, ev AnswerEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal answer event: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue answer: %w", err)
	}
	return nil
}

// HTTPSyncer posts events to the remote backend's /api/answers.
type HTTPSyncer struct {
	client *remote.Client
}

func NewHTTPSyncer(client *remote.Client) *HTTPSyncer {
	return &HTTPSyncer{client: client}
}

func (s *HTTPSyncer) SubmitAnswer(ctx context.Context, ev AnswerEvent) error {
	return s.client.Do(ctx, http.MethodPost, "/api/answers", ev, nil)
}
