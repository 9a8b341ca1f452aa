// Package supplier provides exam questions and categories.
//
// Each operation declares its failure policy (see Fallback): question fetches
// fall back to locally generated placeholders, category listing falls back to
// the default categories, and both report that they did so.
package supplier

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/model"
)

// ErrNotEnoughQuestions is returned when a source holds fewer questions than
// requested for a category.
var ErrNotEnoughQuestions = errors.New("not enough questions for category")

// Supplier is a source of categories and questions.
type Supplier interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	FetchQuestions(ctx context.Context, category string, count int) ([]model.Question, error)
}

// DefaultCategories is served when no supplier answers.
func DefaultCategories() []model.Category {
	return []model.Category{
		{ID: "1", Name: "Algebra", Description: "Algebraic equations and expressions"},
		{ID: "2", Name: "Geometry", Description: "Shapes, angles, and spatial reasoning"},
		{ID: "3", Name: "Calculus", Description: "Derivatives and integrals"},
		{ID: "4", Name: "Arithmetic", Description: "Basic mathematical operations"},
		{ID: "5", Name: "Trigonometry", Description: "Triangles and trigonometric functions"},
	}
}

// Chain tries each supplier in order and returns the first success.
type Chain []Supplier

func (c Chain) ListCategories(ctx context.Context) ([]model.Category, error) {
	var errs []error
	for _, s := range c {
		cats, err := s.ListCategories(ctx)
		if err == nil && len(cats) > 0 {
			return cats, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("empty category list")
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("list categories: %w: %w", errors.Join(errs...), exam.ErrCollaboratorUnavailable)
}

func (c Chain) FetchQuestions(ctx context.Context, category string, count int) ([]model.Question, error) {
	var errs []error
	for _, s := range c {
		qs, err := s.FetchQuestions(ctx, category, count)
		if err == nil {
			return qs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("fetch questions: %w: %w", errors.Join(errs...), exam.ErrCollaboratorUnavailable)
}

// Fallback applies the local fallback policy on top of a supplier.
type Fallback struct {
	next Supplier
	rand exam.Rand
	log  zerolog.Logger
}

// NewFallback wraps next. A nil next always falls back.
func NewFallback(next Supplier, r exam.Rand, log zerolog.Logger) *Fallback {
	return &Fallback{
		next: next,
		rand: r,
		log:  logger.Component(log, "question_supplier"),
	}
}

// Categories never fails. Fallback is true when the defaults were served.
func (f *Fallback) Categories(ctx context.Context) model.CategoryList {
	if f.next != nil {
		cats, err := f.next.ListCategories(ctx)
		if err == nil {
			return model.CategoryList{Categories: cats}
		}
		f.log.Warn().Err(err).Msg("Category supplier unavailable, serving defaults")
	}
	return model.CategoryList{Categories: DefaultCategories(), Fallback: true}
}

// Questions returns exactly count valid questions for category. When no
// supplier can provide them, placeholders are generated and fallback is true.
// Only context cancellation is propagated.
func (f *Fallback) Questions(ctx context.Context, category string, count int) (questions []model.Question, fallback bool, err error) {
	if f.next != nil {
		qs, err := f.next.FetchQuestions(ctx, category, count)
		if err == nil {
			if err = checkQuestions(qs, count); err == nil {
				return qs, false, nil
			}
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		f.log.Warn().Err(err).
			Str("category", category).
			Int("count", count).
			Msg("Question supplier unavailable, generating placeholders")
	}
	return exam.PlaceholderQuestions(f.rand, category, count), true, nil
}

func checkQuestions(qs []model.Question, count int) error {
	if len(qs) != count {
		return fmt.Errorf("got %d questions, want %d: %w", len(qs), count, ErrNotEnoughQuestions)
	}
	return exam.ValidateQuestions(qs)
}
