package appbootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"

	"chapel-auth/api"
	"chapel-auth/config"
	"chapel-auth/core/bootstrap"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
)

type Runtime struct {
	DB         *sql.DB
	Server     *api.Server
	background api.BackgroundController
	closers    []io.Closer

	mu       sync.Mutex
	bgCancel context.CancelFunc
}

// InitRuntime opens the database, applies migrations, seeds the provisioned
// accounts and wires the server. Nothing is listening yet.
func InitRuntime(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*Runtime, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("db init: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	composition, err := composeRuntime(ctx, cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("compose runtime: %w", err)
	}
	if err := bootstrap.EnsureProvisionedUsersWithStore(ctx, composition.users, cfg, logger); err != nil {
		closeAll(composition.closers)
		_ = db.Close()
		return nil, fmt.Errorf("seed users: %w", err)
	}
	srv := api.NewServer(cfg, logger, composition.serverDeps)
	return &Runtime{
		DB:         db,
		Server:     srv,
		background: api.BuildBackgroundController(logger, composition.workers...),
		closers:    composition.closers,
	}, nil
}

func (r *Runtime) StartBackground(ctx context.Context) {
	if r == nil || r.background == nil {
		return
	}
	r.mu.Lock()
	if r.bgCancel != nil {
		r.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.bgCancel = cancel
	r.mu.Unlock()
	r.background.Start(runCtx)
}

func (r *Runtime) StopBackground(ctx context.Context) error {
	if r == nil || r.background == nil {
		return nil
	}
	r.mu.Lock()
	cancel := r.bgCancel
	r.bgCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.background.Stop(ctx)
}

// Close releases the refresh store connection and the database.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	err := closeAll(r.closers)
	if r.DB != nil {
		err = errors.Join(err, r.DB.Close())
	}
	return err
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
