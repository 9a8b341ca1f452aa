package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/classroom-exam/internal/answersync"
	"github.com/stemsi/classroom-exam/internal/archive"
	"github.com/stemsi/classroom-exam/internal/broadcast"
	"github.com/stemsi/classroom-exam/internal/config"
	"github.com/stemsi/classroom-exam/internal/database"
	"github.com/stemsi/classroom-exam/internal/exam"
	"github.com/stemsi/classroom-exam/internal/handler"
	"github.com/stemsi/classroom-exam/internal/logger"
	"github.com/stemsi/classroom-exam/internal/middleware"
	"github.com/stemsi/classroom-exam/internal/remote"
	"github.com/stemsi/classroom-exam/internal/repository"
	"github.com/stemsi/classroom-exam/internal/router"
	"github.com/stemsi/classroom-exam/internal/service"
	"github.com/stemsi/classroom-exam/internal/store"
	"github.com/stemsi/classroom-exam/internal/supplier"
	"github.com/stemsi/classroom-exam/internal/validator"
	"github.com/stemsi/classroom-exam/internal/worker"
)

// backends holds everything that depends on STORE_DRIVER.
type backends struct {
	pool *pgxpool.Pool
	rdb  *redis.Client

	store    store.Store
	broker   broadcast.Broker
	sessions service.SessionStore
	teachers service.TeacherAccounts
	bank     supplier.Supplier
	archiver archive.Archiver
	results  service.ResultArchive
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("answer_sync", cfg.AnswerSyncMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Classroom Exam Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Storage ───────────────────────────────────────────────────────
	b := connectBackends(ctx, cfg, log)
	if b.pool != nil {
		defer b.pool.Close()
	}
	if b.rdb != nil {
		defer b.rdb.Close()
	}

	// ─── Collaborators ─────────────────────────────────────────────────
	var questionAPI, authAPI *remote.Client
	if cfg.QuestionAPIURL != "" {
		questionAPI = remote.NewClient(cfg.QuestionAPIURL, cfg.RemoteTimeout)
	}
	if cfg.AuthRemoteURL != "" {
		authAPI = remote.NewClient(cfg.AuthRemoteURL, cfg.RemoteTimeout)
	}

	var chain supplier.Chain
	if questionAPI != nil {
		chain = append(chain, supplier.NewHTTPSupplier(questionAPI))
	}
	if b.bank != nil {
		chain = append(chain, b.bank)
	}
	var next supplier.Supplier
	if len(chain) > 0 {
		next = chain
	}
	rnd := exam.NewLockedRand(nil)
	questions := supplier.NewFallback(next, rnd, log)

	syncer, closeSyncer := buildSyncer(cfg, b.rdb, log)
	defer closeSyncer()

	// ─── Initialize Services ──────────────────────────────────────────
	classroomService := service.NewClassroomService(b.store, questions, syncer, b.broker, b.archiver, log,
		service.WithRand(rnd))
	authService := service.NewAuthService(cfg, b.teachers, b.sessions, authAPI, log)
	resultService := service.NewResultService(classroomService, b.results, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService, log),
		Classroom: handler.NewClassroomHandler(classroomService, resultService, log),
		Student:   handler.NewStudentHandler(classroomService, authService, log),
		Monitor:   handler.NewMonitorHandler(classroomService, cfg.MonitorRefresh, log),
		WS:        handler.NewWSHandler(classroomService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	// The reconcile worker ends classrooms and so produces engine work; it has
	// its own lifecycle so it can stop before that work is drained.
	reconcileCtx, reconcileCancel := context.WithCancel(context.Background())
	reconcileDone := make(chan struct{})
	reconcileWorker := worker.NewReconcileWorker(classroomService, cfg.ReconcileInterval, log)
	go func() {
		defer close(reconcileDone)
		if err := reconcileWorker.Start(reconcileCtx); err != nil {
			log.Fatal().Err(err).Msg("Reconcile worker failed to start")
		}
	}()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if b.pool != nil && b.rdb != nil {
		answerWorker := worker.NewAnswerPersistWorker(repository.NewAnswerRepository(b.pool), b.rdb, log)
		resultWorker := worker.NewResultPersistWorker(repository.NewResultRepository(b.pool), b.rdb, log)
		workers.Add(2)
		go func() {
			defer workers.Done()
			answerWorker.Start(workerCtx)
		}()
		go func() {
			defer workers.Done()
			resultWorker.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	joinLimiter := middleware.NewRateLimiter(cfg.JoinRateLimit, time.Minute)
	defer joinLimiter.Stop()

	r := router.SetupRouter(authService, handlers, joinLimiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop ending classrooms; a running pass completes first.
	reconcileCancel()
	<-reconcileDone

	// 3. Let in-flight answer syncs and publishes finish.
	classroomService.Wait()

	// 4. Stop the persist workers and wait for queues to drain.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// connectBackends wires storage by STORE_DRIVER. The memory driver needs
// neither Redis nor Postgres and keeps teacher accounts in memory.
func connectBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) *backends {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn().Msg("Memory store selected, classrooms are lost on restart")
		return &backends{
			store:    store.NewMemoryStore(),
			broker:   broadcast.NewMemoryBroker(),
			sessions: service.NewMemorySessionStore(),
			teachers: repository.NewMemoryTeacherRepository(),
			archiver: archive.Noop{},
		}
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	return &backends{
		pool:     pool,
		rdb:      rdb,
		store:    store.NewRedisStore(rdb),
		broker:   broadcast.NewRedisBroker(rdb),
		sessions: service.NewRedisSessionStore(rdb),
		teachers: repository.NewTeacherRepository(pool),
		bank:     supplier.NewBankSupplier(repository.NewQuestionRepository(pool)),
		archiver: archive.NewQueueArchiver(rdb),
		results:  repository.NewResultRepository(pool),
	}
}

// buildSyncer picks the answer-sync collaborator by ANSWER_SYNC_MODE. The
// returned func releases it.
func buildSyncer(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (answersync.AnswerSyncer, func()) {
	noop := func() {}

	switch cfg.AnswerSyncMode {
	case config.AnswerSyncNone:
		return answersync.Noop{}, noop

	case config.AnswerSyncHTTP:
		if cfg.AnswerSyncURL == "" {
			log.Warn().Msg("ANSWER_SYNC_URL not set, answers stay local")
			return answersync.Noop{}, noop
		}
		return answersync.NewHTTPSyncer(remote.NewClient(cfg.AnswerSyncURL, cfg.RemoteTimeout)), noop

	case config.AnswerSyncKafka:
		s, err := answersync.NewKafkaSyncer(cfg.KafkaBrokers, cfg.AnswerSyncTopic, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka answer publisher")
		}
		return s, closeWith(s, log)

	default:
		if rdb == nil {
			log.Warn().Msg("Queue answer sync needs Redis, answers stay local")
			return answersync.Noop{}, noop
		}
		return answersync.NewQueueSyncer(rdb), noop
	}
}

func closeWith(c io.Closer, log zerolog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
