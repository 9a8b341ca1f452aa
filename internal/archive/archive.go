// Package archive hands final classroom results to durable storage.
package archive

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/model"
)

// Archiver receives the results of an ended classroom.
type Archiver interface {
	Archive(ctx context.Context, results []model.StudentResult) error
}

// Noop discards results. Used when no database is configured.
type Noop struct{}

func (Noop) Archive(context.Context, []model.StudentResult) error { return nil }

// QueueArchiver pushes results onto persist_results_queue for the result
// persist worker.
type QueueArchiver struct {
	rdb *redis.Client
}

func NewQueueArchiver(rdb *redis.Client) *QueueArchiver {
	return &QueueArchiver{rdb: rdb}
}

func (a *QueueArchiver) Archive(ctx context.Context, results []model.StudentResult) error {
	if len(results) == 0 {
		return nil
	}

	pipe := a.rdb.Pipeline()
	for i := range results {
		raw, err := json.Marshal(&results[i])
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue results: %w", err)
	}
	return nil
}
