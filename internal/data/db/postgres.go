// Package db bootstraps the Postgres connection backing the metadata
// repository and the embedding job queue.
package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/chessmate/chessmate/internal/domain"
	"github.com/chessmate/chessmate/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService opens a connection using DATABASE_URL verbatim (a
// standard libpq connection string), enables the uuid-ossp extension the
// domain models rely on for default primary keys, and runs the schema
// migration pass.
func NewPostgresService(dsn string, logg *logger.Logger) (*PostgresService, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	serviceLog := logg.With("service", "PostgresService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("failed to enable uuid-ossp extension: %w", err)
	}

	svc := &PostgresService{db: gdb, log: serviceLog}
	if err := svc.migrate(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

// SetMaxConns caps both open and idle connections at n; the
// embedding-worker command passes WORKERS + 2.
func (s *PostgresService) SetMaxConns(n int) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(n)
	sqlDB.SetMaxIdleConns(n)
	return nil
}

func (s *PostgresService) migrate() error {
	if err := s.db.AutoMigrate(
		&domain.Player{},
		&domain.Game{},
		&domain.Position{},
		&domain.EmbeddingJob{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	// AutoMigrate does not express every composite/partial index in the
	// gorm tag language cleanly, so a short raw-SQL pass follows it, the
	// same two-step pattern used elsewhere in this codebase's migrations.
	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_game_ply_unique ON positions (game_id, ply)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status_enqueued ON embedding_jobs (status, enqueued_at)`,
	}
	for _, stmt := range statements {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}
