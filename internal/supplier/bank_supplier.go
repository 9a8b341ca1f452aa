package supplier

import (
	"context"
	"fmt"

	"github.com/stemsi/classroom-exam/internal/model"
)

// QuestionBank is the stored question bank (see repository.QuestionRepository).
type QuestionBank interface {
	ListCategories(ctx context.Context) ([]model.Category, error)
	RandomByCategory(ctx context.Context, category string, limit int) ([]model.Question, error)
}

// BankSupplier draws random questions from the local question bank.
type BankSupplier struct {
	bank QuestionBank
}

func NewBankSupplier(bank QuestionBank) *BankSupplier {
	return &BankSupplier{bank: bank}
}

func (s *BankSupplier) ListCategories(ctx context.Context) ([]model.Category, error) {
	return s.bank.ListCategories(ctx)
}

func (s *BankSupplier) FetchQuestions(ctx context.Context, category string, count int) ([]model.Question, error) {
	qs, err := s.bank.RandomByCategory(ctx, category, count)
	if err != nil {
		return nil, fmt.Errorf("question bank: %w", err)
	}
	if len(qs) < count {
		return nil, fmt.Errorf("bank holds %d of %d questions for %q: %w", len(qs), count, category, ErrNotEnoughQuestions)
	}
	return qs, nil
}
