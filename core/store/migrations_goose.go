package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"chapel-auth/core/utils"
	"github.com/pressly/goose/v3"
)

//go:embed migrations_pg/*.sql
var gooseMigrationsPgFS embed.FS

//go:embed migrations_sqlite/*.sql
var gooseMigrationsSQLiteFS embed.FS

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

type MigrationStatus struct {
	Dialect        Dialect `json:"dialect"`
	CurrentVersion int64   `json:"current_version"`
	LatestVersion  int64   `json:"latest_version"`
	HasPending     bool    `json:"has_pending"`
}

func ApplyMigrations(ctx context.Context, db *sql.DB, logger *utils.Logger) error {
	if db == nil {
		return fmt.Errorf("nil db")
	}
	dialect, err := DetectDialect(ctx, db)
	if err != nil {
		return err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	dir, err := selectMigrations(dialect, logger)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("applying goose migrations dialect=%s", dialect)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("goose migrations applied")
	}
	return nil
}

func GetMigrationStatus(ctx context.Context, db *sql.DB) (MigrationStatus, error) {
	if db == nil {
		return MigrationStatus{}, fmt.Errorf("nil db")
	}
	dialect, err := DetectDialect(ctx, db)
	if err != nil {
		return MigrationStatus{}, err
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()
	dir, err := selectMigrations(dialect, nil)
	if err != nil {
		return MigrationStatus{}, err
	}
	status := MigrationStatus{Dialect: dialect}
	migrations, err := goose.CollectMigrations(dir, 0, goose.MaxVersion)
	if err != nil {
		return status, err
	}
	if last, err := migrations.Last(); err == nil {
		status.LatestVersion = last.Version
	}
	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return status, err
	}
	status.CurrentVersion = current
	status.HasPending = current < status.LatestVersion
	return status, nil
}

func selectMigrations(dialect Dialect, logger *utils.Logger) (string, error) {
	if logger != nil {
		goose.SetLogger(logger)
	}
	switch dialect {
	case DialectPostgres:
		if err := goose.SetDialect(string(DialectPostgres)); err != nil {
			return "", err
		}
		goose.SetBaseFS(gooseMigrationsPgFS)
		return "migrations_pg", nil
	case DialectSQLite:
		if err := goose.SetDialect(string(DialectSQLite)); err != nil {
			return "", err
		}
		goose.SetBaseFS(gooseMigrationsSQLiteFS)
		return "migrations_sqlite", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func DetectDialect(ctx context.Context, db *sql.DB) (Dialect, error) {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return "", err
	}
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err == nil {
		return DialectSQLite, nil
	}
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("detect dialect: %w", err)
	}
	return DialectPostgres, nil
}
