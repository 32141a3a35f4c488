package backend

import (
	"context"
	"errors"
	"fmt"
	"os"

	"pnvr/internal/log"
	"pnvr/internal/memory"
	"pnvr/internal/storage"
	"pnvr/internal/storage/postgres"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case MemoryBackend:
		result, err = f.createMemoryBackend(ctx, config)
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(ctx, config)
	case PostgresBackend:
		result, err = f.createPostgresBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	if config.WithExportQueue && result.Queue == nil {
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			_ = result.Close()
			return nil, fmt.Errorf("failed to initialize export queue: %w", err)
		}
		result.Queue = repo
		result.Cleanup = chain(result.Cleanup, repo.Close)
		f.logger.InfoContext(ctx, "Initialized SQLite export queue", "db_path", config.SQLiteDBPath)
	}
	return result, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := memory.NewFromFile(config.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}
	convenios, _ := store.ListConvenios(ctx)
	f.logger.InfoContext(ctx, "Initialized memory backend",
		"seed_file", config.SeedFile,
		"convenios", len(convenios))
	return &BackendResult{Backend: store}, nil
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	if config.SeedFile != "" {
		if err := importSeed(ctx, repo, config.SeedFile); err != nil {
			repo.Close()
			return nil, err
		}
		f.logger.InfoContext(ctx, "Imported seed into SQLite", "seed_file", config.SeedFile)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"export_queue", config.WithExportQueue)

	result := &BackendResult{Backend: repo, Cleanup: repo.Close}
	if config.WithExportQueue {
		result.Queue = repo
	}
	return result, nil
}

func (f *DefaultFactory) createPostgresBackend(ctx context.Context, config Config) (*BackendResult, error) {
	reader, err := postgres.NewReader(ctx, config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres reader: %w", err)
	}
	f.logger.InfoContext(ctx, "Initialized Postgres backend")
	return &BackendResult{Backend: reader, Cleanup: reader.Close}, nil
}

func importSeed(ctx context.Context, repo *storage.SQLiteRepository, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()

	budgets, err := memory.ParseSeed(file)
	if err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for _, in := range budgets {
		if err := repo.SaveBudget(ctx, in); err != nil {
			return fmt.Errorf("import convenio %d: %w", in.Convenio.ID, err)
		}
	}
	return nil
}

func chain(fns ...CleanupFunc) CleanupFunc {
	return func() error {
		var errs []error
		for _, fn := range fns {
			if fn != nil {
				errs = append(errs, fn())
			}
		}
		return errors.Join(errs...)
	}
}
