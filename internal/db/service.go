package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/logger"
)

// Service wraps the database connection and provides methods for database operations
type Service struct {
	db     *sql.DB
	driver DatabaseDriver
}

// NewService creates a new database service instance
func NewService(cfg *config.Config) (*Service, error) {
	db, driver, err := OpenDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.Info("Database service initialized", "driver", string(driver))

	return &Service{
		db:     db,
		driver: driver,
	}, nil
}

// Close closes the database connection
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying database connection
func (s *Service) DB() *sql.DB {
	return s.db
}

// Driver returns the database driver type
func (s *Service) Driver() DatabaseDriver {
	return s.driver
}

// IsPostgreSQL returns true if using PostgreSQL
func (s *Service) IsPostgreSQL() bool {
	return s.driver == PostgreSQL
}

// IsSQLite returns true if using SQLite
func (s *Service) IsSQLite() bool {
	return s.driver == SQLite
}

// Ping checks the connection, for readiness probes.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Rebind rewrites '?' placeholders for the service's driver.
func (s *Service) Rebind(query string) string {
	return Rebind(s.driver, query)
}

// WithTx executes a function within a database transaction
func (s *Service) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
