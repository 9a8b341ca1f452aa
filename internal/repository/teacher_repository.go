package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/classroom-exam/internal/model"
)

var (
	ErrDuplicateEmail  = errors.New("teacher with this email already exists")
	ErrTeacherNotFound = errors.New("teacher not found")
)

// TeacherRepository handles teacher account data access.
type TeacherRepository struct {
	pool *pgxpool.Pool
}

// NewTeacherRepository creates a new TeacherRepository.
func NewTeacherRepository(pool *pgxpool.Pool) *TeacherRepository {
	return &TeacherRepository{pool: pool}
}

// Create inserts a new teacher and fills its generated id and timestamp.
func (r *TeacherRepository) Create(ctx context.Context, t *model.Teacher) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO teachers (name, email, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		t.Name, normalizeEmail(t.Email), t.PasswordHash, t.Role,
	).Scan(&t.ID, &t.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// GetByEmail retrieves a teacher by email, case-insensitively.
func (r *TeacherRepository) GetByEmail(ctx context.Context, email string) (*model.Teacher, error) {
	return r.getOne(ctx,
		`SELECT id, name, email, password_hash, role, created_at
		 FROM teachers WHERE email = $1`, normalizeEmail(email))
}

// GetByID retrieves a teacher by id.
func (r *TeacherRepository) GetByID(ctx context.Context, id string) (*model.Teacher, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrTeacherNotFound
	}
	return r.getOne(ctx,
		`SELECT id, name, email, password_hash, role, created_at
		 FROM teachers WHERE id = $1`, id)
}

func (r *TeacherRepository) getOne(ctx context.Context, query string, arg any) (*model.Teacher, error) {
	t := &model.Teacher{}
	err := r.pool.QueryRow(ctx, query, arg).
		Scan(&t.ID, &t.Name, &t.Email, &t.PasswordHash, &t.Role, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTeacherNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryTeacherRepository keeps teacher accounts in memory for the
// database-less configuration and tests.
type MemoryTeacherRepository struct {
	mu      sync.RWMutex
	byID    map[string]*model.Teacher
	byEmail map[string]string
}

func NewMemoryTeacherRepository() *MemoryTeacherRepository {
	return &MemoryTeacherRepository{
		byID:    make(map[string]*model.Teacher),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryTeacherRepository) Create(_ context.Context, t *model.Teacher) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := normalizeEmail(t.Email)
	if _, exists := r.byEmail[email]; exists {
		return ErrDuplicateEmail
	}
	t.ID = uuid.NewString()
	t.Email = email
	t.CreatedAt = time.Now()
	stored := *t
	r.byID[t.ID] = &stored
	r.byEmail[email] = t.ID
	return nil
}

func (r *MemoryTeacherRepository) GetByEmail(ctx context.Context, email string) (*model.Teacher, error) {
	r.mu.RLock()
	id, ok := r.byEmail[normalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrTeacherNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryTeacherRepository) GetByID(_ context.Context, id string) (*model.Teacher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, ErrTeacherNotFound
	}
	out := *t
	return &out, nil
}
