// Package db provides database driver abstraction and connection management
package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/logger"

	// Database drivers
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DatabaseDriver represents the type of database driver
type DatabaseDriver string

// Database driver constants
const (
	SQLite     DatabaseDriver = "sqlite3"
	PostgreSQL DatabaseDriver = "postgres"
)

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Driver           DatabaseDriver
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// DetectDriver determines the database driver from the connection string
func DetectDriver(connectionString string) DatabaseDriver {
	connectionString = strings.ToLower(connectionString)

	switch {
	case strings.HasPrefix(connectionString, "postgres://") ||
		strings.HasPrefix(connectionString, "postgresql://") ||
		strings.Contains(connectionString, "host="):
		return PostgreSQL
	default:
		// Paths, file: URIs and :memory: all go to SQLite
		return SQLite
	}
}

// OpenDatabase opens a database connection with the appropriate driver and settings
func OpenDatabase(cfg *config.Config) (*sql.DB, DatabaseDriver, error) {
	dbConfig := DatabaseConfig{
		Driver:           DetectDriver(cfg.DatabaseURL),
		ConnectionString: cfg.DatabaseURL,
		MaxOpenConns:     25,
		MaxIdleConns:     5,
		ConnMaxLifetime:  5 * time.Minute,
	}

	switch dbConfig.Driver {
	case SQLite:
		// One connection: keeps :memory: databases alive and avoids lock contention
		dbConfig.MaxOpenConns = 1
		dbConfig.MaxIdleConns = 1
		dbConfig.ConnMaxLifetime = 0

		if !strings.Contains(dbConfig.ConnectionString, "?") {
			dbConfig.ConnectionString += "?_busy_timeout=10000&_foreign_keys=on"
		}

	case PostgreSQL:
		if cfg.AppEnv == config.EnvDev {
			dbConfig.MaxOpenConns = 10
			dbConfig.MaxIdleConns = 2
		}
	}

	logger.Info("Opening database connection",
		"driver", string(dbConfig.Driver),
		"maxOpenConns", dbConfig.MaxOpenConns,
		"maxIdleConns", dbConfig.MaxIdleConns)

	db, err := sql.Open(string(dbConfig.Driver), dbConfig.ConnectionString)
	if err != nil {
		return nil, dbConfig.Driver, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, dbConfig.Driver, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeDatabase(db, dbConfig.Driver); err != nil {
		_ = db.Close()
		return nil, dbConfig.Driver, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, dbConfig.Driver, nil
}

// initializeDatabase applies driver-specific initialization
func initializeDatabase(db *sql.DB, driver DatabaseDriver) error {
	switch driver {
	case SQLite:
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}

		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = -64000", // 64MB cache
			"PRAGMA temp_store = MEMORY",
		}

		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				logger.Warn("Failed to set SQLite pragma", "pragma", pragma, "error", err)
			}
		}

	case PostgreSQL:
		if _, err := db.Exec("SET timezone = 'UTC'"); err != nil {
			logger.Warn("Failed to set PostgreSQL timezone", "error", err)
		}
	}

	return nil
}

// GetPlaceholder returns the appropriate SQL placeholder for the driver
func GetPlaceholder(driver DatabaseDriver, position int) string {
	switch driver {
	case PostgreSQL:
		return "$" + strconv.Itoa(position)
	default:
		return "?"
	}
}

// Rebind rewrites the '?' placeholders in query for driver. Queries are
// written with '?' and must not contain literal question marks.
func Rebind(driver DatabaseDriver, query string) string {
	if driver != PostgreSQL {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(GetPlaceholder(driver, n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// GetLimitOffset returns the appropriate LIMIT/OFFSET syntax for the driver
func GetLimitOffset(driver DatabaseDriver, limit, offset int64) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}
