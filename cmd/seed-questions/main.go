package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/database"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/repository"
	"github.com/stemsi/classroom-exam/internal/supplier"
)

func main() {
	var (
		file  string
		count int
	)
	flag.StringVar(&file, "file", "", "JSON file with an array of questions (question, answers, correctAnswer, category)")
	flag.IntVar(&count, "count", 20, "Generated questions per default category when -file is not given")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var questions []model.Question
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to read question file")
		}
		if err := json.Unmarshal(raw, &questions); err != nil {
			log.Fatal().Err(err).Str("file", file).Msg("Failed to decode question file")
		}
	} else {
		questions = generate(count)
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	repo := repository.NewQuestionRepository(pool)

	descriptions := make(map[string]string)
	for _, c := range supplier.DefaultCategories() {
		descriptions[c.Name] = c.Description
	}

	fmt.Printf("=== Seeding %d Questions ===\n", len(questions))

	categoryIDs := make(map[string]int)
	successCount := 0
	for i := range questions {
		q := &questions[i]
		if q.Category == "" || len(q.Answers) < 2 || q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Answers) {
			fmt.Printf("Skipping invalid question #%d: %q\n", i+1, q.Question)
			continue
		}

		id, ok := categoryIDs[q.Category]
		if !ok {
			id, err = repo.UpsertCategory(ctx, q.Category, descriptions[q.Category])
			if err != nil {
				log.Fatal().Err(err).Str("category", q.Category).Msg("Failed to upsert category")
			}
			categoryIDs[q.Category] = id
		}

		if err := repo.Create(ctx, id, q); err != nil {
			fmt.Printf("Error creating question #%d: %v\n", i+1, err)
			continue
		}
		successCount++
		if successCount%25 == 0 {
			fmt.Printf("Created %d questions...\n", successCount)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d questions.\n", successCount, len(questions))
}

// generate builds simple numeric questions for the Arithmetic and Algebra
// categories. Distractors are the correct value shifted by small offsets.
func generate(perCategory int) []model.Question {
	r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7))
	out := make([]model.Question, 0, 2*perCategory)

	for range perCategory {
		a, b := r.IntN(90)+10, r.IntN(90)+10
		out = append(out, numeric(r, "Arithmetic", fmt.Sprintf("What is %d + %d?", a, b), a+b))
	}
	for range perCategory {
		x, a := r.IntN(20)+1, r.IntN(30)+1
		out = append(out, numeric(r, "Algebra", fmt.Sprintf("Solve for x: x + %d = %d", a, x+a), x))
	}
	return out
}

func numeric(r *rand.Rand, category, text string, correct int) model.Question {
	offsets := []int{0, 1, -1, 2}
	r.Shuffle(len(offsets), func(i, j int) { offsets[i], offsets[j] = offsets[j], offsets[i] })

	q := model.Question{Question: text, Category: category, Answers: make([]string, len(offsets))}
	for i, off := range offsets {
		q.Answers[i] = fmt.Sprint(correct + off)
		if off == 0 {
			q.CorrectAnswer = i
		}
	}
	return q
}
