package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "chatledger/internal/errors"
	"chatledger/internal/metrics"
	"chatledger/internal/models"
	"chatledger/internal/privacy"
	"chatledger/internal/retry"
)

// ReceiptSender performs the actual outbound sends. Implemented by the
// transport layer; sends are assumed idempotent on the receiving side.
type ReceiptSender interface {
	SendSeenReceipt(ctx context.Context, messageID, threadKey string) error
	SendRerequest(ctx context.Context, messageID, threadKey string) error
	SendRetract(ctx context.Context, messageID, threadKey string) error
}

// RetryDriver periodically drains the pending-send backlog: seen receipts
// not yet sent, unresolved rerequests and unconfirmed retractions. Marking
// a message seen never waits for the network; this loop closes the gap.
type RetryDriver struct {
	ledger  *Ledger
	sender  ReceiptSender
	backoff *retry.Backoff
	cfg     models.RetryDriverConfig
	logger  *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewRetryDriver(ledger *Ledger, sender ReceiptSender, backoff *retry.Backoff, cfg models.RetryDriverConfig, logger *logrus.Logger) *RetryDriver {
	return &RetryDriver{
		ledger:  ledger,
		sender:  sender,
		backoff: backoff,
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the poll loop. Returns immediately; Stop shuts it down.
func (d *RetryDriver) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *RetryDriver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func (d *RetryDriver) run(ctx context.Context) {
	defer close(d.doneCh)

	interval := time.Duration(d.cfg.PollIntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.WithField("interval", interval).Info("Retry driver started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.drainOnce(ctx)
		}
	}
}

func (d *RetryDriver) drainOnce(ctx context.Context) {
	pending, err := d.ledger.PendingSends(ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.WithError(err).Warn("Failed to list pending sends")
		return
	}
	if len(pending) == 0 {
		return
	}

	d.logger.WithField("count", len(pending)).Debug("Draining pending sends")
	for _, send := range pending {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}
		d.process(ctx, send)
	}
}

func (d *RetryDriver) process(ctx context.Context, send models.PendingSend) {
	err := d.backoff.Retry(ctx, func() error {
		switch send.Kind {
		case models.PendingSeenReceipt:
			return d.sender.SendSeenReceipt(ctx, send.MessageID, send.ThreadKey)
		case models.PendingRerequest:
			return d.sender.SendRerequest(ctx, send.MessageID, send.ThreadKey)
		case models.PendingRetractConfirm:
			return d.sender.SendRetract(ctx, send.MessageID, send.ThreadKey)
		}
		return nil
	})
	if err != nil {
		metrics.IncrementCounter("pending_send_failures", map[string]string{"kind": string(send.Kind)}, "Pending sends that exhausted retries")
		d.logger.WithError(apperrors.Wrap(err, apperrors.ErrCodeSendFailed, "pending send failed")).
			WithFields(logrus.Fields{
				"kind":   string(send.Kind),
				"thread": privacy.MaskThreadKey(send.ThreadKey),
			}).Warn("Pending send exhausted retries")
		return
	}

	metrics.IncrementCounter("pending_sends_drained", map[string]string{"kind": string(send.Kind)}, "Pending sends completed")

	// Only the seen receipt confirms locally on send success; rerequests
	// and retractions resolve through later network events.
	if send.Kind == models.PendingSeenReceipt {
		if _, err := d.ledger.ApplyIncomingEvent(ctx, send.MessageID, models.IncomingEvent{Kind: models.EventSeenReceiptSent}); err != nil {
			d.logger.WithError(err).Warn("Failed to record sent seen receipt")
		}
	}
}
