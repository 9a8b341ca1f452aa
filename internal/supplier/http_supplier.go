package supplier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/stemsi/classroom-exam/internal/model"
	"github.com/stemsi/classroom-exam/internal/remote"
)

// HTTPSupplier reads questions from the remote REST backend.
type HTTPSupplier struct {
	client *remote.Client
}

func NewHTTPSupplier(client *remote.Client) *HTTPSupplier {
	return &HTTPSupplier{client: client}
}

func (s *HTTPSupplier) ListCategories(ctx context.Context) ([]model.Category, error) {
	var cats []model.Category
	if err := s.client.Do(ctx, http.MethodGet, "/api/categories", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func (s *HTTPSupplier) FetchQuestions(ctx context.Context, category string, count int) ([]model.Question, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("count", strconv.Itoa(count))

	var qs []model.Question
	if err := s.client.Do(ctx, http.MethodGet, "/api/questions?"+q.Encode(), nil, &qs); err != nil {
		return nil, err
	}
	if len(qs) < count {
		return nil, fmt.Errorf("remote returned %d of %d questions: %w", len(qs), count, ErrNotEnoughQuestions)
	}
	return qs[:count], nil
}
