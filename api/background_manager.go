package api

import (
	"context"
	"errors"

	"merchant-guard/core/utils"
)

type BackgroundWorker interface {
	StartWithContext(context.Context) error
	StopWithContext(context.Context) error
}

// Flusher drains buffered state after the workers stop, e.g. the async activity recorder.
type Flusher interface {
	Close(context.Context) error
}

type BackgroundController interface {
	Start(context.Context) error
	Stop(context.Context) error
}

type backgroundManager struct {
	logger   *utils.Logger
	workers  []BackgroundWorker
	flushers []Flusher
	started  []BackgroundWorker
}

func newBackgroundManager(logger *utils.Logger, workers []BackgroundWorker, flushers []Flusher) *backgroundManager {
	m := &backgroundManager{logger: logger}
	for _, w := range workers {
		if w != nil {
			m.workers = append(m.workers, w)
		}
	}
	for _, f := range flushers {
		if f != nil {
			m.flushers = append(m.flushers, f)
		}
	}
	return m
}

func BuildBackgroundController(logger *utils.Logger, workers []BackgroundWorker, flushers ...Flusher) BackgroundController {
	return newBackgroundManager(logger, workers, flushers)
}

// Start starts every worker; on failure the already started ones are stopped.
func (m *backgroundManager) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	for _, w := range m.workers {
		if err := w.StartWithContext(ctx); err != nil {
			m.logger.Errorf("background worker start: %v", err)
			return errors.Join(err, m.stopWorkers(ctx))
		}
		m.started = append(m.started, w)
	}
	return nil
}

func (m *backgroundManager) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}
	errs := []error{m.stopWorkers(ctx)}
	for _, f := range m.flushers {
		if err := f.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *backgroundManager) stopWorkers(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		if err := m.started[i].StopWithContext(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	m.started = nil
	return errors.Join(errs...)
}
