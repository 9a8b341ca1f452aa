package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
)

const (
	ResultBatchSize    = 50
	ResultBatchTimeout = 2 * time.Second
	ResultPollTimeout  = 1 * time.Second
)

// ResultWriter stores final classroom results.
type ResultWriter interface {
	BulkUpsert(ctx context.Context, batch []model.StudentResult) error
	Upsert(ctx context.Context, res *model.StudentResult) error
}

type ResultPersistWorker struct {
	results ResultWriter
	rdb     *redis.Client
	log     zerolog.Logger
}

func NewResultPersistWorker(results ResultWriter, rdb *redis.Client, log zerolog.Logger) *ResultPersistWorker {
	return &ResultPersistWorker{
		results: results,
		rdb:     rdb,
		log:     logger.Component(log, "result_persist_worker"),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ResultPersistWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultPersistWorker started")

	batch := make([]model.StudentResult, 0, ResultBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ResultBatchSize || time.Since(lastFlush) >= ResultBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining results...")
			w.drain(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ResultPollTimeout, config.WorkerKey.PersistResultsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			if res, ok := w.decode(item[1]); ok {
				batch = append(batch, res)
			}
		}
	}
}

func (w *ResultPersistWorker) decode(raw string) (model.StudentResult, bool) {
	var res model.StudentResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return res, false
	}
	if res.ClassroomID == "" || res.StudentID == "" {
		w.log.Error().Str("payload", raw).Msg("Incomplete result payload")
		return res, false
	}
	return res, true
}

// drain flushes the pending batch plus everything queued at shutdown. Items
// requeued by a failed flush are left for the next start.
func (w *ResultPersistWorker) drain(ctx context.Context, batch []model.StudentResult) {
	queued, err := w.rdb.LLen(ctx, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		w.log.Error().Err(err).Msg("LLen error")
	}
	for ; queued > 0; queued-- {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistResultsQueue).Result()
		if err != nil {
			break
		}
		if res, ok := w.decode(raw); ok {
			batch = append(batch, res)
		}
		if len(batch) >= ResultBatchSize {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
		}
	}
	w.flushSafe(ctx, batch)
}

// ----------------------------------------------------------------
// Batch upsert with per-row fallback
// ----------------------------------------------------------------

func (w *ResultPersistWorker) flushSafe(ctx context.Context, batch []model.StudentResult) {
	if len(batch) == 0 {
		return
	}

	err := w.results.BulkUpsert(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Results persisted")
		return
	}
	w.log.Warn().Err(err).Msg("bulk result upsert failed, using fallback")

	for i := range batch {
		if err := w.results.Upsert(ctx, &batch[i]); err != nil {
			w.log.Error().Err(err).
				Str("classroom_id", batch[i].ClassroomID).
				Str("student_id", batch[i].StudentID).
				Msg("Upsert failed, requeueing")
			raw, _ := json.Marshal(&batch[i])
			w.rdb.RPush(context.Background(), config.WorkerKey.PersistResultsQueue, raw)
		}
	}
}
