// Package remote is a small JSON-over-HTTP client for the optional remote
// backend (questions, answers, auth).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stemsi/classroom-exam/internal/exam"
)

type tokenKey struct{}

// WithToken attaches a caller's bearer token to ctx. It is forwarded on every
// remote call made with that context.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token attached by WithToken.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client calls a remote JSON API rooted at BaseURL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Do sends body (if non-nil) as JSON and decodes the response into out (if
// non-nil). Transport failures and 5xx responses wrap
// exam.ErrCollaboratorUnavailable; 4xx responses return a *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if !c.Enabled() {
		return fmt.Errorf("remote backend not configured: %w", exam.ErrCollaboratorUnavailable)
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%s %s: %v: %w", method, path, err, exam.ErrCollaboratorUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(msg)}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", serr, exam.ErrCollaboratorUnavailable)
		}
		return serr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %v: %w", method, path, err, exam.ErrCollaboratorUnavailable)
	}
	return nil
}
