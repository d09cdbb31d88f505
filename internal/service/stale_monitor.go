package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatledger/internal/metrics"
	"chatledger/internal/models"
)

// StaleMonitor watches for messages stuck in transient states: retractions
// awaiting confirmation and pending sends older than the threshold. It only
// reports; the retry driver does the resending.
type StaleMonitor struct {
	store  Store
	cfg    models.MonitorConfig
	logger *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewStaleMonitor(store Store, cfg models.MonitorConfig, logger *logrus.Logger) *StaleMonitor {
	return &StaleMonitor{
		store:  store,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (m *StaleMonitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *StaleMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *StaleMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	interval := time.Duration(m.cfg.CheckIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkOnce(ctx)
		}
	}
}

func (m *StaleMonitor) checkOnce(ctx context.Context) {
	threshold := time.Duration(m.cfg.StaleThresholdSec) * time.Second
	retracting, pendingSends, err := m.store.GetStaleCounts(ctx, threshold)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to check for stale messages")
		return
	}

	metrics.SetGauge("stale_retracting", float64(retracting), nil, "Retractions unconfirmed past threshold")
	metrics.SetGauge("stale_pending_sends", float64(pendingSends), nil, "Pending sends older than threshold")

	if retracting > 0 || pendingSends > 0 {
		m.logger.WithFields(logrus.Fields{
			"retracting":    retracting,
			"pending_sends": pendingSends,
			"threshold":     threshold,
		}).Warn("Stale messages detected")
	}
}
