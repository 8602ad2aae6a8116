package store

import (
	"database/sql"
	"errors"
	"flag"
	"strings"

	"chapel-auth/config"
	"chapel-auth/core/utils"
	_ "modernc.org/sqlite"
)

func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if driver == "" {
		switch {
		case strings.TrimSpace(cfg.DBURL) != "":
			driver = "postgres"
		case isTestRuntime() && strings.TrimSpace(cfg.DBPath) != "":
			driver = "sqlite"
		default:
			driver = "postgres"
		}
	}
	switch driver {
	case "postgres", "pg":
		if strings.TrimSpace(cfg.DBURL) == "" {
			return nil, errors.New("CHAPEL_DB_URL is required for postgres")
		}
		db, err := sql.Open(postgresDriverName, cfg.DBURL)
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		if logger != nil {
			logger.Printf("db open postgres")
		}
		return db, nil
	case "sqlite":
		if !isTestRuntime() {
			return nil, errors.New("sqlite driver is supported only in go test runtime")
		}
		if strings.TrimSpace(cfg.DBPath) == "" {
			return nil, errors.New("DBPath is required for sqlite")
		}
		db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=busy_timeout(5000)")
		if err != nil {
			if logger != nil {
				logger.Errorf("db open failed: %v", err)
			}
			return nil, err
		}
		// sqlite allows a single writer; serialize through one connection.
		db.SetMaxOpenConns(1)
		if logger != nil {
			logger.Printf("db open sqlite (test runtime)")
		}
		return db, nil
	default:
		return nil, errors.New("unsupported db driver: " + driver)
	}
}

func isTestRuntime() bool {
	return flag.Lookup("test.v") != nil
}
