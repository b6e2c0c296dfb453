package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	embeddednats "pawcare-contacts/pkg/services/embedded-nats"
)

type Manager struct {
	workers []Worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

func NewManager(natsClient *embeddednats.EmbeddedNATS, db *sql.DB, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if natsClient.Connection() == nil {
		return nil, fmt.Errorf("NATS connection not initialized")
	}

	js := natsClient.JetStream()
	if js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	return NewManagerWithWorkers(logger,
		NewAuditWorker(js, db, natsClient, logger),
		NewNotificationWorker(js, logger),
	), nil
}

func NewManagerWithWorkers(logger *zap.Logger, workers ...Worker) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

func (m *Manager) Start() error {
	for _, worker := range m.workers {
		m.wg.Add(1)
		go func(w Worker) {
			defer m.wg.Done()

			if err := w.Start(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("worker exited", zap.String("worker", w.Name()), zap.Error(err))
			}
		}(worker)
	}

	m.logger.Info("workers started", zap.Int("count", len(m.workers)))
	return nil
}

func (m *Manager) Stop() error {
	m.cancel()

	for _, worker := range m.workers {
		if err := worker.Stop(); err != nil {
			m.logger.Warn("error stopping worker", zap.String("worker", worker.Name()), zap.Error(err))
		}
	}

	m.wg.Wait()

	m.logger.Info("all workers stopped")
	return nil
}
