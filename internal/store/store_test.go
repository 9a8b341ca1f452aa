package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/model"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb)
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisStore(t)) })
}

func sampleClassroom(id, code, teacher string, start int64) *model.Classroom {
	return &model.Classroom{
		ID:            id,
		Code:          code,
		TeacherID:     teacher,
		TeacherName:   "Teacher " + teacher,
		Category:      "Algebra",
		Duration:      10,
		QuestionCount: 1,
		Questions: []model.Question{{
			ID: "q1", Question: "2+2?", Answers: []string{"3", "4", "5", "6"}, CorrectAnswer: 1, Category: "Algebra",
		}},
		StartTime:      start,
		EndTime:        start + 10*60000,
		IsActive:       true,
		StudentAnswers: map[string]*model.StudentRecord{},
	}
}

func sampleRecord(id string) *model.StudentRecord {
	return &model.StudentRecord{
		StudentID:     id,
		StudentName:   "Student " + id,
		Answers:       map[string]int{},
		QuestionOrder: []string{"q1"},
		AnswerOrders:  map[string][]int{"q1": {3, 1, 0, 2}},
		JoinedAt:      1,
	}
}

func endAndScore(c *model.Classroom) (bool, error) {
	if !c.IsActive {
		return false, nil
	}
	c.IsActive = false
	c.Scored = true
	exam.ApplyScores(c)
	return true, nil
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))

		got, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "ABC123", got.Code)
		assert.Len(t, got.Questions, 1)
		assert.Empty(t, got.StudentAnswers)

		byCode, err := s.GetByCode(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, "c1", byCode.ID)

		_, err = s.Get(ctx, "missing")
		assert.ErrorIs(t, err, exam.ErrNotFound)
		_, err = s.GetByCode(ctx, "ZZZZZZ")
		assert.ErrorIs(t, err, exam.ErrNotFound)
	})
}

func TestStore_CreateRejectsTakenCode(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))
		err := s.Create(ctx, sampleClassroom("c2", "ABC123", "t1", 200))
		assert.ErrorIs(t, err, exam.ErrCodeTaken)

		_, err = s.Get(ctx, "c2")
		assert.ErrorIs(t, err, exam.ErrNotFound)
	})
}

func TestStore_Lists(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "AAAAAA", "t1", 100)))
		require.NoError(t, s.Create(ctx, sampleClassroom("c2", "BBBBBB", "t1", 200)))
		require.NoError(t, s.Create(ctx, sampleClassroom("c3", "CCCCCC", "t2", 300)))
		_, _, err := s.AddStudent(ctx, "c2", sampleRecord("s1"))
		require.NoError(t, err)
		_, _, err = s.Finish(ctx, "c1", endAndScore)
		require.NoError(t, err)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "c3", all[0].ID)

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		ids := []string{}
		for _, c := range active {
			ids = append(ids, c.ID)
		}
		assert.ElementsMatch(t, []string{"c2", "c3"}, ids)

		mine, err := s.ListByTeacher(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "c2", mine[0].ID)
		assert.Len(t, mine[0].StudentAnswers, 1)
	})
}

func TestStore_AddStudentIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))

		first, created, err := s.AddStudent(ctx, "c1", sampleRecord("s1"))
		require.NoError(t, err)
		assert.True(t, created)

		other := sampleRecord("s1")
		other.AnswerOrders["q1"] = []int{0, 1, 2, 3}
		second, created, err := s.AddStudent(ctx, "c1", other)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.AnswerOrders, second.AnswerOrders)

		c, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, c.StudentAnswers, 1)
		assert.Equal(t, []int{3, 1, 0, 2}, c.StudentAnswers["s1"].AnswerOrders["q1"])
	})
}

func TestStore_ConcurrentJoinsCreateOneRecord(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.AddStudent(ctx, "c1", sampleRecord("s1"))
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		c, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, c.StudentAnswers, 1)
	})
}

func TestStore_SetAnswer(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))
		_, _, err := s.AddStudent(ctx, "c1", sampleRecord("s1"))
		require.NoError(t, err)
		_, _, err = s.AddStudent(ctx, "c1", sampleRecord("s2"))
		require.NoError(t, err)

		require.NoError(t, s.SetAnswer(ctx, "c1", "s1", "q1", 2))
		require.NoError(t, s.SetAnswer(ctx, "c1", "s1", "q1", 1))
		require.NoError(t, s.SetAnswer(ctx, "c1", "s2", "q1", 3))

		c, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"q1": 1}, c.StudentAnswers["s1"].Answers)
		assert.Equal(t, map[string]int{"q1": 3}, c.StudentAnswers["s2"].Answers)

		assert.ErrorIs(t, s.SetAnswer(ctx, "c1", "ghost", "q1", 0), exam.ErrStudentNotFound)
		assert.ErrorIs(t, s.SetAnswer(ctx, "nope", "s1", "q1", 0), exam.ErrNotFound)
	})
}

func TestStore_FinishScoresOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))
		_, _, err := s.AddStudent(ctx, "c1", sampleRecord("s1"))
		require.NoError(t, err)
		// Shuffled index 1 maps to canonical 1, the correct answer.
		require.NoError(t, s.SetAnswer(ctx, "c1", "s1", "q1", 1))

		c, changed, err := s.Finish(ctx, "c1", endAndScore)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.False(t, c.IsActive)

		_, changed, err = s.Finish(ctx, "c1", endAndScore)
		require.NoError(t, err)
		assert.False(t, changed)

		got, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.True(t, got.Scored)
		rec := got.StudentAnswers["s1"]
		require.NotNil(t, rec.Score)
		assert.Equal(t, 1, *rec.Score)
		assert.Equal(t, 1, *rec.TotalQuestions)
		assert.Equal(t, map[string]int{"q1": 1}, rec.Answers)

		assert.ErrorIs(t, s.SetAnswer(ctx, "c1", "s1", "q1", 0), exam.ErrSessionEnded)
		_, _, err = s.AddStudent(ctx, "c1", sampleRecord("late"))
		assert.ErrorIs(t, err, exam.ErrSessionEnded)
	})
}

func TestStore_FinishPropagatesCallbackError(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))

		boom := fmt.Errorf("boom")
		_, _, err := s.Finish(ctx, "c1", func(*model.Classroom) (bool, error) { return false, boom })
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, got.IsActive)
	})
}

func TestStore_AnswersRacingFinishAreNeverLostFromScore(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, sampleClassroom("c1", "ABC123", "t1", 100)))
		for i := range 10 {
			_, _, err := s.AddStudent(ctx, "c1", sampleRecord(fmt.Sprintf("s%d", i)))
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		accepted := make([]bool, 10)
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.SetAnswer(ctx, "c1", fmt.Sprintf("s%d", i), "q1", 1)
				if err == nil {
					accepted[i] = true
					return
				}
				assert.ErrorIs(t, err, exam.ErrSessionEnded)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Finish(ctx, "c1", endAndScore)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, err := s.Get(ctx, "c1")
		require.NoError(t, err)
		for i, ok := range accepted {
			rec := got.StudentAnswers[fmt.Sprintf("s%d", i)]
			require.NotNil(t, rec.Score)
			// An accepted answer was committed before the end, so it is scored.
			if ok {
				assert.Equal(t, 1, *rec.Score, "student %d", i)
			} else {
				assert.Equal(t, 0, *rec.Score, "student %d", i)
			}
		}
	})
}
