package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/answersync"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/repository"
)

// AnswerWriter stores mirrored answers.
type AnswerWriter interface {
	Upsert(ctx context.Context, a *repository.AnswerRecord) error
}

// AnswerPersistWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AnswerPersistWorker struct {
	answers    AnswerWriter
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewAnswerPersistWorker creates a new AnswerPersistWorker.
func NewAnswerPersistWorker(answers AnswerWriter, rdb *redis.Client, log zerolog.Logger) *AnswerPersistWorker {
	return &AnswerPersistWorker{
		answers:    answers,
		rdb:        rdb,
		log:        logger.Component(log, "answer_persist_worker"),
		retryDelay: 5 * time.Second,
	}
}

// Start begins the worker loop and blocks until ctx is cancelled. Queued
// answers are drained before it returns.
func (w *AnswerPersistWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AnswerPersistWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.PersistAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.persist(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Msg("Persist error, retrying later")
		w.rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// persist writes one queued answer. Malformed payloads are logged and dropped.
func (w *AnswerPersistWorker) persist(ctx context.Context, raw string) error {
	var ev answersync.AnswerEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping payload")
		return nil
	}
	if ev.ClassroomID == "" || ev.StudentID == "" || ev.QuestionID == "" {
		w.log.Error().Str("payload", raw).Msg("Incomplete answer payload, dropping")
		return nil
	}

	err := w.answers.Upsert(ctx, &repository.AnswerRecord{
		ClassroomID:    ev.ClassroomID,
		StudentID:      ev.StudentID,
		StudentName:    ev.StudentName,
		QuestionID:     ev.QuestionID,
		AnswerIndex:    ev.AnswerIndex,
		CanonicalIndex: ev.CanonicalIndex,
		SubmittedAt:    time.UnixMilli(ev.SubmittedAt),
	})
	if err != nil {
		return fmt.Errorf("upsert answer %s/%s/%s: %w", ev.ClassroomID, ev.StudentID, ev.QuestionID, err)
	}
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AnswerPersistWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		if err := w.persist(ctx, result); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
