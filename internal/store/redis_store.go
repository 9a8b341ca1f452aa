package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/model"
)

const maxTxRetries = 16

// RedisStore keeps live classrooms in Redis.
//
// Layout (see config.CacheKey):
//
//	classroom:{id}            header JSON, no student records
//	classroom:code:{CODE}     classroom id
//	classroom:{id}:students   hash studentID -> record JSON (answers excluded)
//	classroom:{id}:answers    hash "{studentID}:{questionID}" -> shuffled index
//	classrooms                set of every id
//	classrooms:active         set of ids not yet ended
//	teacher:{tid}:classrooms  set of a teacher's ids
//
// Answers live in their own hash so a submission writes exactly one field.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Create(ctx context.Context, c *model.Classroom) error {
	codeKey := config.CacheKey.ClassroomCodeKey(c.Code)

	ok, err := s.rdb.SetNX(ctx, codeKey, c.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve code: %w", err)
	}
	if !ok {
		return exam.ErrCodeTaken
	}

	header, err := json.Marshal(c.Header())
	if err != nil {
		s.rdb.Del(ctx, codeKey)
		return fmt.Errorf("marshal classroom: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, config.CacheKey.ClassroomKey(c.ID), header, 0)
		pipe.SAdd(ctx, config.CacheKey.ClassroomsKey(), c.ID)
		pipe.SAdd(ctx, config.CacheKey.TeacherClassroomsKey(c.TeacherID), c.ID)
		if c.IsActive {
			pipe.SAdd(ctx, config.CacheKey.ActiveClassroomsKey(), c.ID)
		}
		return nil
	})
	if err != nil {
		s.rdb.Del(ctx, codeKey)
		return fmt.Errorf("store classroom: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Classroom, error) {
	var (
		headerCmd   *redis.StringCmd
		studentsCmd *redis.MapStringStringCmd
		answersCmd  *redis.MapStringStringCmd
	)

	// MULTI/EXEC gives a consistent snapshot of the three keys.
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		headerCmd = pipe.Get(ctx, config.CacheKey.ClassroomKey(id))
		studentsCmd = pipe.HGetAll(ctx, config.CacheKey.ClassroomStudentsKey(id))
		answersCmd = pipe.HGetAll(ctx, config.CacheKey.ClassroomAnswersKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read classroom: %w", err)
	}

	raw, err := headerCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, exam.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read classroom header: %w", err)
	}
	return assemble(raw, studentsCmd.Val(), answersCmd.Val())
}

func (s *RedisStore) GetByCode(ctx context.Context, code string) (*model.Classroom, error) {
	id, err := s.rdb.Get(ctx, config.CacheKey.ClassroomCodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, exam.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve code: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *RedisStore) List(ctx context.Context) ([]*model.Classroom, error) {
	return s.headers(ctx, config.CacheKey.ClassroomsKey())
}

func (s *RedisStore) ListActive(ctx context.Context) ([]*model.Classroom, error) {
	return s.headers(ctx, config.CacheKey.ActiveClassroomsKey())
}

func (s *RedisStore) ListByTeacher(ctx context.Context, teacherID string) ([]*model.Classroom, error) {
	ids, err := s.rdb.SMembers(ctx, config.CacheKey.TeacherClassroomsKey(teacherID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list teacher classrooms: %w", err)
	}

	out := make([]*model.Classroom, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if errors.Is(err, exam.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) headers(ctx context.Context, setKey string) ([]*model.Classroom, error) {
	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", setKey, err)
	}
	if len(ids) == 0 {
		return []*model.Classroom{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.ClassroomKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read classroom headers: %w", err)
	}

	out := make([]*model.Classroom, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		c, err := assemble(raw, nil, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) AddStudent(ctx context.Context, classroomID string, rec *model.StudentRecord) (*model.StudentRecord, bool, error) {
	headerKey := config.CacheKey.ClassroomKey(classroomID)
	studentsKey := config.CacheKey.ClassroomStudentsKey(classroomID)

	var (
		stored  *model.StudentRecord
		created bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		created = false
		header, err := readHeader(ctx, tx, classroomID)
		if err != nil {
			return err
		}

		raw, err := tx.HGet(ctx, studentsKey, rec.StudentID).Result()
		if err == nil {
			existing, err := decodeStudent(raw)
			if err != nil {
				return err
			}
			answers, err := tx.HGetAll(ctx, config.CacheKey.ClassroomAnswersKey(classroomID)).Result()
			if err != nil {
				return fmt.Errorf("read answers: %w", err)
			}
			fillAnswers(map[string]*model.StudentRecord{existing.StudentID: existing}, answers)
			stored = existing
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read student: %w", err)
		}
		if !header.IsActive {
			return exam.ErrSessionEnded
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal student: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSetNX(ctx, studentsKey, rec.StudentID, data)
			return nil
		})
		if err != nil {
			return err
		}
		stored = rec.Clone()
		created = true
		return nil
	}, headerKey, studentsKey)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *RedisStore) SetAnswer(ctx context.Context, classroomID, studentID, questionID string, idx int) error {
	headerKey := config.CacheKey.ClassroomKey(classroomID)
	studentsKey := config.CacheKey.ClassroomStudentsKey(classroomID)
	answersKey := config.CacheKey.ClassroomAnswersKey(classroomID)

	return s.watch(ctx, func(tx *redis.Tx) error {
		header, err := readHeader(ctx, tx, classroomID)
		if err != nil {
			return err
		}
		if !header.IsActive {
			return exam.ErrSessionEnded
		}
		exists, err := tx.HExists(ctx, studentsKey, studentID).Result()
		if err != nil {
			return fmt.Errorf("check student: %w", err)
		}
		if !exists {
			return exam.ErrStudentNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, answersKey, config.CacheKey.AnswerField(studentID, questionID), idx)
			return nil
		})
		return err
	}, headerKey)
}

func (s *RedisStore) Finish(ctx context.Context, classroomID string, fn FinishFunc) (*model.Classroom, bool, error) {
	headerKey := config.CacheKey.ClassroomKey(classroomID)
	studentsKey := config.CacheKey.ClassroomStudentsKey(classroomID)
	answersKey := config.CacheKey.ClassroomAnswersKey(classroomID)

	var (
		result  *model.Classroom
		changed bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		c, err := load(ctx, tx, classroomID)
		if err != nil {
			return err
		}

		changed, err = fn(c)
		if err != nil {
			return err
		}
		result = c
		if !changed {
			return nil
		}

		header, err := json.Marshal(c.Header())
		if err != nil {
			return fmt.Errorf("marshal classroom: %w", err)
		}
		students := make(map[string]any, len(c.StudentAnswers))
		for id, rec := range c.StudentAnswers {
			data, err := json.Marshal(stripAnswers(rec))
			if err != nil {
				return fmt.Errorf("marshal student: %w", err)
			}
			students[id] = data
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, headerKey, header, 0)
			if len(students) > 0 {
				pipe.HSet(ctx, studentsKey, students)
			}
			if !c.IsActive {
				pipe.SRem(ctx, config.CacheKey.ActiveClassroomsKey(), classroomID)
			}
			return nil
		})
		return err
	}, headerKey, studentsKey, answersKey)
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// watch runs fn under WATCH on keys, retrying when a concurrent writer
// invalidates the transaction.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("classroom transaction retries exhausted: %w", redis.TxFailedErr)
}

func readHeader(ctx context.Context, tx *redis.Tx, id string) (*model.Classroom, error) {
	raw, err := tx.Get(ctx, config.CacheKey.ClassroomKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, exam.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read classroom header: %w", err)
	}
	return assemble(raw, nil, nil)
}

func load(ctx context.Context, tx *redis.Tx, id string) (*model.Classroom, error) {
	raw, err := tx.Get(ctx, config.CacheKey.ClassroomKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, exam.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read classroom header: %w", err)
	}
	students, err := tx.HGetAll(ctx, config.CacheKey.ClassroomStudentsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read students: %w", err)
	}
	answers, err := tx.HGetAll(ctx, config.CacheKey.ClassroomAnswersKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	return assemble(raw, students, answers)
}

func assemble(header string, students, answers map[string]string) (*model.Classroom, error) {
	var c model.Classroom
	if err := json.Unmarshal([]byte(header), &c); err != nil {
		return nil, fmt.Errorf("decode classroom: %w", err)
	}
	c.StudentAnswers = make(map[string]*model.StudentRecord, len(students))
	for _, raw := range students {
		rec, err := decodeStudent(raw)
		if err != nil {
			return nil, err
		}
		c.StudentAnswers[rec.StudentID] = rec
	}
	fillAnswers(c.StudentAnswers, answers)
	return &c, nil
}

func decodeStudent(raw string) (*model.StudentRecord, error) {
	var rec model.StudentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode student: %w", err)
	}
	// The answers hash is authoritative.
	rec.Answers = map[string]int{}
	if rec.AnswerOrders == nil {
		rec.AnswerOrders = map[string][]int{}
	}
	return &rec, nil
}

func fillAnswers(records map[string]*model.StudentRecord, answers map[string]string) {
	for field, v := range answers {
		studentID, questionID, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		rec, ok := records[studentID]
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		rec.Answers[questionID] = idx
	}
}

func stripAnswers(rec *model.StudentRecord) *model.StudentRecord {
	out := *rec
	out.Answers = nil
	return &out
}
