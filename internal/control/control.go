package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/streamchat/internal/core/config"
	redisclient "github.com/vietddude/streamchat/internal/infra/redis"
	"github.com/vietddude/streamchat/internal/infra/storage"
	"github.com/vietddude/streamchat/internal/infra/storage/httpstore"
	"github.com/vietddude/streamchat/internal/infra/storage/memory"
	"github.com/vietddude/streamchat/internal/infra/storage/postgres"
)

// ErrNoTranscriptReader is returned when the configured backend is write-only.
var ErrNoTranscriptReader = errors.New("storage backend cannot load transcripts")

// HealthChecker pings a backend.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Stores is the persistence layer selected by configuration.
type Stores struct {
	Backend string

	// Transcripts is always set. Reader is nil for write-only backends.
	Transcripts storage.TranscriptWriter
	Reader      storage.TranscriptRepository
	Attempts    storage.AttemptRepository

	// Health is nil when the backend has nothing to ping.
	Health HealthChecker

	db    *postgres.DB
	redis *redisclient.Client
}

// OpenStores connects the configured backend. Postgres migrations run
// when migrate is true.
func OpenStores(ctx context.Context, cfg *config.AppConfig, migrate bool) (*Stores, error) {
	s := &Stores{Backend: cfg.Storage.Backend}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if migrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		transcripts := postgres.NewTranscriptRepo(db)
		s.Transcripts = transcripts
		s.Reader = transcripts
		s.Attempts = postgres.NewAttemptRepo(db)
		s.Health = db
		s.db = db
		slog.Info("Using PostgreSQL storage")

	case config.BackendRedis:
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.Transcripts = rc
		s.Reader = rc
		s.Attempts = rc
		s.Health = rc
		s.redis = rc
		slog.Info("Using Redis storage", "ttl", cfg.Redis.TTL)

	case config.BackendHTTP:
		hs, err := httpstore.New(httpstore.Config{
			BaseURL: cfg.Storage.ReplaceURL,
			APIKey:  cfg.Completion.APIKey,
			Timeout: cfg.Storage.Timeout,
		})
		if err != nil {
			return nil, err
		}
		// Attempts stay local; the endpoint only accepts transcripts.
		s.Transcripts = hs
		s.Attempts = memory.NewAttemptRepo(memory.NewMemoryStorage())
		slog.Info("Using HTTP message-replace storage", "url", cfg.Storage.ReplaceURL)

	default:
		store := memory.NewMemoryStorage()
		transcripts := memory.NewTranscriptRepo(store)
		s.Transcripts = transcripts
		s.Reader = transcripts
		s.Attempts = memory.NewAttemptRepo(store)
		slog.Info("Using Memory storage")
	}
	return s, nil
}

// DB returns the postgres handle, or nil.
func (s *Stores) DB() *postgres.DB { return s.db }

// Close releases backend connections.
func (s *Stores) Close() error {
	var errs []error
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
