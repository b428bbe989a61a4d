package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"producer-dashboard/internal/broker"
	"producer-dashboard/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRereader struct {
	mu    sync.Mutex
	calls []common.Address
	ok    bool
	// failures makes the first n calls fail regardless of ok
	failures int
}

func (f *fakeRereader) Reread(ctx context.Context, addr common.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, addr)
	if f.failures > 0 {
		f.failures--
		return false
	}
	return f.ok
}

func (f *fakeRereader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLedger struct {
	mu        sync.Mutex
	processed map[string]bool
	err       error
}

func (f *fakeLedger) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID], f.err
}

func (f *fakeLedger) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[eventID] = true
	return nil
}

func (f *fakeLedger) isProcessed(eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID]
}

// onceReader delivers its messages once each, then blocks until ctx ends
type onceReader struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	commits []kafka.Message
}

func (r *onceReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *onceReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *onceReader) Close() error { return nil }

func (r *onceReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

func confirmedMessage(t *testing.T, producer string) (kafka.Message, *models.RegistrationConfirmedEvent) {
	t.Helper()
	event := &models.RegistrationConfirmedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeRegistrationConfirmed),
		Producer:    producer,
		TxHash:      "0xabc",
		BlockNumber: 12,
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}, event
}

func TestConfirmedEventRereadsOnce(t *testing.T) {
	rereader := &fakeRereader{ok: true}
	ledger := &fakeLedger{processed: map[string]bool{}}
	w := NewRefreshWorker(nil, rereader, ledger)

	producer := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	msg, event := confirmedMessage(t, producer)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), msg))
	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), msg))

	require.Len(t, rereader.calls, 1)
	assert.Equal(t, common.HexToAddress(producer), rereader.calls[0])
	assert.True(t, ledger.processed[event.EventID])
}

func TestFailedRereadIsRetried(t *testing.T) {
	rereader := &fakeRereader{ok: false}
	ledger := &fakeLedger{processed: map[string]bool{}}
	w := NewRefreshWorker(nil, rereader, ledger)

	msg, event := confirmedMessage(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	assert.Error(t, w.eventHandler.HandleMessage(context.Background(), msg))
	assert.False(t, ledger.processed[event.EventID])

	rereader.mu.Lock()
	rereader.ok = true
	rereader.mu.Unlock()
	assert.NoError(t, w.eventHandler.HandleMessage(context.Background(), msg))
	assert.Len(t, rereader.calls, 2)
	assert.True(t, ledger.processed[event.EventID])
}

func TestConfirmedEventLedgerError(t *testing.T) {
	rereader := &fakeRereader{ok: true}
	w := NewRefreshWorker(nil, rereader, &fakeLedger{err: errors.New("db down")})

	_, event := confirmedMessage(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	assert.Error(t, w.HandleRegistrationConfirmed(context.Background(), event))
	assert.Empty(t, rereader.calls)
}

func TestConfirmedEventInvalidProducerDropped(t *testing.T) {
	rereader := &fakeRereader{ok: true}
	w := NewRefreshWorker(nil, rereader, &fakeLedger{processed: map[string]bool{}})

	_, event := confirmedMessage(t, "nobody")
	assert.NoError(t, w.HandleRegistrationConfirmed(context.Background(), event))
	assert.Empty(t, rereader.calls)
}

func TestConsumedEventRedeliveredUntilRereadSucceeds(t *testing.T) {
	msg, event := confirmedMessage(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	reader := &onceReader{msgs: []kafka.Message{msg}}
	consumer := broker.NewConsumerWithReader(reader, "dashboard-events", time.Millisecond, 2*time.Millisecond)

	rereader := &fakeRereader{ok: true, failures: 2}
	ledger := &fakeLedger{processed: map[string]bool{}}
	w := NewRefreshWorker(consumer, rereader, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return reader.commitCount() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 3, rereader.callCount())
	assert.True(t, ledger.isProcessed(event.EventID))
}
