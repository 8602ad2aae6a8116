package api

import (
	"context"
	"errors"
	"reflect"

	"chapel-auth/core/utils"
)

type BackgroundWorker interface {
	StartWithContext(context.Context)
	StopWithContext(context.Context) error
}

type BackgroundController interface {
	Start(context.Context)
	Stop(context.Context) error
}

type backgroundManager struct {
	logger  *utils.Logger
	workers []BackgroundWorker
}

func newBackgroundManager(logger *utils.Logger, workers ...BackgroundWorker) *backgroundManager {
	out := make([]BackgroundWorker, 0, len(workers))
	for _, w := range workers {
		if isNilWorker(w) {
			continue
		}
		out = append(out, w)
	}
	return &backgroundManager{logger: logger, workers: out}
}

func BuildBackgroundController(logger *utils.Logger, workers ...BackgroundWorker) BackgroundController {
	return newBackgroundManager(logger, workers...)
}

func (m *backgroundManager) Start(ctx context.Context) {
	if m == nil {
		return
	}
	for _, w := range m.workers {
		w.StartWithContext(ctx)
	}
	m.logger.Printf("background workers started: %d", len(m.workers))
}

// Stop stops every worker even when some fail and reports all errors.
func (m *backgroundManager) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, w := range m.workers {
		if err := w.StopWithContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isNilWorker(w BackgroundWorker) bool {
	if w == nil {
		return true
	}
	v := reflect.ValueOf(w)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
