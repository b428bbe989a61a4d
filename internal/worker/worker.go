package worker

import (
	"context"
	"fmt"

	"producer-dashboard/internal/broker"
	"producer-dashboard/internal/models"
	"producer-dashboard/internal/util"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Rereader refreshes a producer's cached profile and products. Implemented by *service.RegistrationService.
type Rereader interface {
	Reread(ctx context.Context, addr common.Address) bool
}

// EventLedger records which events have been handled. Implemented by *store.Store.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// RefreshWorker re-reads a producer's profile and product list for every confirmed
// registration that has not yet been handled, by this or any other instance.
type RefreshWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	rereader     Rereader
	ledger       EventLedger
	logger       *zap.Logger
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(consumer *broker.Consumer, rereader Rereader, ledger EventLedger) *RefreshWorker {
	logger := util.ComponentLogger("refresh-worker")
	w := &RefreshWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(logger),
		rereader:     rereader,
		ledger:       ledger,
		logger:       logger,
	}

	w.eventHandler.OnRegistrationConfirmed(w.HandleRegistrationConfirmed)
	w.eventHandler.OnRegistrationFailed(w.HandleRegistrationFailed)
	return w
}

// Start consumes events until ctx is cancelled
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting refresh worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RefreshWorker) Stop() error {
	w.logger.Info("Stopping refresh worker")
	return w.consumer.Close()
}

// HandleRegistrationConfirmed re-reads the producer once per event.
// A failed re-read leaves the event unprocessed so that it is retried.
func (w *RefreshWorker) HandleRegistrationConfirmed(ctx context.Context, event *models.RegistrationConfirmedEvent) error {
	processed, err := w.ledger.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event %s: %w", event.EventID, err)
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if !common.IsHexAddress(event.Producer) {
		w.logger.Warn("Dropping event with invalid producer", zap.String("producer", event.Producer))
		return nil
	}

	if !w.rereader.Reread(ctx, common.HexToAddress(event.Producer)) {
		return fmt.Errorf("re-read of producer %s failed", event.Producer)
	}

	if err := w.ledger.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event %s processed: %w", event.EventID, err)
	}

	w.logger.Info("Producer refreshed after confirmed registration",
		zap.String("producer", event.Producer),
		zap.String("tx_hash", event.TxHash))
	return nil
}

// HandleRegistrationFailed only records the failure; nothing on chain changed
func (w *RefreshWorker) HandleRegistrationFailed(ctx context.Context, event *models.RegistrationFailedEvent) error {
	w.logger.Warn("Registration failed",
		zap.String("producer", event.Producer),
		zap.String("tx_hash", event.TxHash),
		zap.String("reason", event.Reason))
	return nil
}
