package service

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatledger/internal/engine"
	apperrors "chatledger/internal/errors"
	"chatledger/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateMessage(ctx context.Context, rec *models.MessageRecord, receipts []models.RecipientReceipt, mark *models.AggregateMark) error {
	args := m.Called(ctx, rec, receipts, mark)
	return args.Error(0)
}

func (m *mockStore) GetMessage(ctx context.Context, id string) (*models.MessageRecord, error) {
	args := m.Called(ctx, id)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.MessageRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetLatestMessage(ctx context.Context, threadKey string) (*models.MessageRecord, error) {
	args := m.Called(ctx, threadKey)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.MessageRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetReceipt(ctx context.Context, messageID, recipientID string) (*models.RecipientReceipt, error) {
	args := m.Called(ctx, messageID, recipientID)
	if rcpt := args.Get(0); rcpt != nil {
		return rcpt.(*models.RecipientReceipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetReceipts(ctx context.Context, messageID string) ([]models.RecipientReceipt, error) {
	args := m.Called(ctx, messageID)
	if receipts := args.Get(0); receipts != nil {
		return receipts.([]models.RecipientReceipt), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ApplyChange(ctx context.Context, change *models.StateChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func (m *mockStore) GetCountedThreads(ctx context.Context) (map[string][]string, error) {
	args := m.Called(ctx)
	if counted := args.Get(0); counted != nil {
		return counted.(map[string][]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListAggregateMarks(ctx context.Context) ([]models.AggregateMark, error) {
	args := m.Called(ctx)
	if marks := args.Get(0); marks != nil {
		return marks.([]models.AggregateMark), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListPendingSends(ctx context.Context, limit int) ([]models.PendingSend, error) {
	args := m.Called(ctx, limit)
	if pending := args.Get(0); pending != nil {
		return pending.([]models.PendingSend), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetStaleCounts(ctx context.Context, olderThan time.Duration) (int, int, error) {
	args := m.Called(ctx, olderThan)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) AggregateAdvanced(messageID string, level models.GroupAggregateStatus) {
	m.Called(messageID, level)
}

func newTestLedger(store Store, notifier *mockNotifier) *Ledger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if notifier == nil {
		return NewLedger(store, nil, logger)
	}
	return NewLedger(store, notifier, logger)
}

func incomingRecord(id, threadKey string, status models.IncomingStatus, decrypted bool) *models.MessageRecord {
	return &models.MessageRecord{
		ID:             id,
		ThreadKey:      threadKey,
		Direction:      models.DirectionIncoming,
		Kind:           models.ContentText,
		IncomingStatus: status,
		Decrypted:      decrypted,
	}
}

func TestCreateOutgoingGroupSnapshotsRecipients(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := &models.MessageRecord{ID: "g1", ThreadKey: "g:team", IsGroup: true, Kind: models.ContentText}
	store.On("CreateMessage", ctx, rec, mock.MatchedBy(func(receipts []models.RecipientReceipt) bool {
		return len(receipts) == 2 && receipts[0].Status == models.ReceiptNone
	}), mock.MatchedBy(func(mark *models.AggregateMark) bool {
		return mark != nil && mark.RecipientCount == 2
	})).Return(nil)
	store.On("GetLatestMessage", ctx, "g:team").Return(rec, nil)

	err := ledger.CreateOutgoing(ctx, rec, []string{"alice", "bob"})

	require.NoError(t, err)
	assert.Equal(t, models.OutgoingPending, rec.OutgoingStatus)
	assert.True(t, ledger.aggregator.Tracked("g1"))
	store.AssertExpectations(t)
}

func TestCreateOutgoingRejectsInvalidID(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)

	err := ledger.CreateOutgoing(context.Background(), &models.MessageRecord{ID: "", ThreadKey: "peer-1"}, nil)

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
	store.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyOutgoingEventPersistsThenPublishes(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := &models.MessageRecord{
		ID: "m1", ThreadKey: "peer-1", Direction: models.DirectionOutgoing,
		Kind: models.ContentText, OutgoingStatus: models.OutgoingPending,
	}
	store.On("GetMessage", ctx, "m1").Return(rec, nil)
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.Message != nil && change.Message.OutgoingStatus == models.OutgoingSentOut
	})).Return(nil)
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	result, err := ledger.ApplyOutgoingEvent(ctx, "m1", models.OutgoingEvent{Kind: models.EventAck, ServerTimestamp: time.Now()})

	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)
	store.AssertExpectations(t)
}

func TestApplyOutgoingEventNoOpSkipsPersistence(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := &models.MessageRecord{
		ID: "m1", ThreadKey: "peer-1", Direction: models.DirectionOutgoing,
		Kind: models.ContentText, OutgoingStatus: models.OutgoingSeen,
	}
	store.On("GetMessage", ctx, "m1").Return(rec, nil)

	result, err := ledger.ApplyOutgoingEvent(ctx, "m1", models.OutgoingEvent{Kind: models.EventAck})

	require.NoError(t, err)
	assert.Equal(t, engine.NoOp, result)
	store.AssertNotCalled(t, "ApplyChange", mock.Anything, mock.Anything)
}

func TestApplyOutgoingEventUnknownMessage(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	store.On("GetMessage", ctx, "ghost").Return(nil, nil)

	_, err := ledger.ApplyOutgoingEvent(ctx, "ghost", models.OutgoingEvent{Kind: models.EventAck})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestApplyOutgoingEventPersistenceFailureLeavesStateUnapplied(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := &models.MessageRecord{
		ID: "m1", ThreadKey: "peer-1", Direction: models.DirectionOutgoing,
		Kind: models.ContentText, OutgoingStatus: models.OutgoingPending,
	}
	store.On("GetMessage", ctx, "m1").Return(rec, nil)
	store.On("ApplyChange", ctx, mock.Anything).Return(fmt.Errorf("disk full"))

	_, err := ledger.ApplyOutgoingEvent(ctx, "m1", models.OutgoingEvent{Kind: models.EventAck})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePersistence))
	assert.True(t, apperrors.IsRetryable(err), "a failed write may be replayed")
	assert.Equal(t, models.OutgoingPending, rec.OutgoingStatus, "loaded record must stay untouched")
	store.AssertNotCalled(t, "GetLatestMessage", mock.Anything, mock.Anything)
}

func TestApplyIncomingDecryptedIncrementsUnreadOnce(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := incomingRecord("m1", "peer-1", models.IncomingNone, false)
	store.On("GetMessage", ctx, "m1").Return(rec, nil).Once()
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.CountedAdd != nil && change.CountedAdd.ThreadKey == "peer-1"
	})).Return(nil).Once()
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	result, err := ledger.ApplyIncomingEvent(ctx, "m1", models.IncomingEvent{Kind: models.EventDecrypted})
	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)
	assert.Equal(t, 1, ledger.UnreadCount("peer-1"))
	assert.Equal(t, 1, ledger.GlobalUnreadCount())

	// Replayed decryption is a NoOp and must not double-count.
	decrypted := incomingRecord("m1", "peer-1", models.IncomingNone, true)
	store.On("GetMessage", ctx, "m1").Return(decrypted, nil).Once()

	result, err = ledger.ApplyIncomingEvent(ctx, "m1", models.IncomingEvent{Kind: models.EventDecrypted})
	require.NoError(t, err)
	assert.Equal(t, engine.NoOp, result)
	assert.Equal(t, 1, ledger.UnreadCount("peer-1"))
	store.AssertExpectations(t)
}

func TestApplyIncomingOwnDeviceEchoNotCounted(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := incomingRecord("m1", "peer-1", models.IncomingNone, false)
	rec.FromOwnDevice = true
	store.On("GetMessage", ctx, "m1").Return(rec, nil)
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.CountedAdd == nil
	})).Return(nil)
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	result, err := ledger.ApplyIncomingEvent(ctx, "m1", models.IncomingEvent{Kind: models.EventDecrypted})

	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)
	assert.Zero(t, ledger.UnreadCount("peer-1"))
}

func TestMarkSeenLocallyDecrementsUnread(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	ledger.counter.Restore("peer-1", []string{"m1"})

	rec := incomingRecord("m1", "peer-1", models.IncomingNone, true)
	store.On("GetMessage", ctx, "m1").Return(rec, nil)
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.CountedRemove != nil && change.Message.IncomingStatus == models.IncomingHaveSeen
	})).Return(nil)
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	result, err := ledger.MarkSeenLocally(ctx, "m1")

	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)
	assert.Zero(t, ledger.UnreadCount("peer-1"))
	assert.Zero(t, ledger.GlobalUnreadCount())
}

func TestRetractReceivedRemovesUnreadCount(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	ledger.counter.Restore("peer-1", []string{"m1"})

	rec := incomingRecord("m1", "peer-1", models.IncomingNone, true)
	store.On("GetMessage", ctx, "m1").Return(rec, nil)
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.Message.IncomingStatus == models.IncomingRetracted && change.CountedRemove != nil
	})).Return(nil)
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	result, err := ledger.ApplyIncomingEvent(ctx, "m1", models.IncomingEvent{Kind: models.EventRetractReceived})

	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)
	assert.Zero(t, ledger.UnreadCount("peer-1"))
}

func TestApplyReceiptEventAggregatesAndFiresOnce(t *testing.T) {
	store := &mockStore{}
	notifier := &mockNotifier{}
	ledger := newTestLedger(store, notifier)
	ctx := context.Background()

	rec := &models.MessageRecord{
		ID: "g1", ThreadKey: "g:team", IsGroup: true, Direction: models.DirectionOutgoing,
		Kind: models.ContentText, OutgoingStatus: models.OutgoingSentOut,
	}
	ledger.aggregator.Track("g1", 2, models.AggregatePending)

	store.On("GetMessage", ctx, "g1").Return(rec, nil)
	store.On("GetLatestMessage", ctx, "g:team").Return(rec, nil)

	// alice delivered: no aggregate progress yet.
	store.On("GetReceipt", ctx, "g1", "alice").Return(&models.RecipientReceipt{MessageID: "g1", RecipientID: "alice"}, nil).Once()
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.Receipt != nil && change.Receipt.Status == models.ReceiptDelivered &&
			change.Message == nil && change.AggregateMark == nil
	})).Return(nil).Once()

	result, err := ledger.ApplyReceiptEvent(ctx, "g1", models.ReceiptEvent{RecipientID: "alice", Kind: models.EventRecipientDelivered})
	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)

	// bob delivered: aggregate reaches delivered, the message status
	// follows, the mark persists and the notification fires once.
	notifier.On("AggregateAdvanced", "g1", models.AggregateDelivered).Once()
	store.On("GetReceipt", ctx, "g1", "bob").Return(&models.RecipientReceipt{MessageID: "g1", RecipientID: "bob"}, nil).Once()
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.Receipt != nil &&
			change.Message != nil && change.Message.OutgoingStatus == models.OutgoingDelivered &&
			change.AggregateMark != nil && change.AggregateMark.EmittedLevel == models.AggregateDelivered
	})).Return(nil).Once()

	result, err = ledger.ApplyReceiptEvent(ctx, "g1", models.ReceiptEvent{RecipientID: "bob", Kind: models.EventRecipientDelivered})
	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)

	// A replay of bob's receipt is a NoOp and must not re-fire.
	store.On("GetReceipt", ctx, "g1", "bob").Return(&models.RecipientReceipt{MessageID: "g1", RecipientID: "bob", Status: models.ReceiptDelivered}, nil).Once()

	result, err = ledger.ApplyReceiptEvent(ctx, "g1", models.ReceiptEvent{RecipientID: "bob", Kind: models.EventRecipientDelivered})
	require.NoError(t, err)
	assert.Equal(t, engine.NoOp, result)

	notifier.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestApplyReceiptEventUnknownRecipient(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := &models.MessageRecord{
		ID: "g1", ThreadKey: "g:team", IsGroup: true, Direction: models.DirectionOutgoing,
		Kind: models.ContentText, OutgoingStatus: models.OutgoingSentOut,
	}
	store.On("GetMessage", ctx, "g1").Return(rec, nil)
	store.On("GetReceipt", ctx, "g1", "mallory").Return(nil, nil)

	_, err := ledger.ApplyReceiptEvent(ctx, "g1", models.ReceiptEvent{RecipientID: "mallory", Kind: models.EventRecipientSeen})

	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	store.AssertNotCalled(t, "ApplyChange", mock.Anything, mock.Anything)
}

func TestApplyReceiptEventOneToOneFoldsIntoRecord(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	rec := &models.MessageRecord{
		ID: "m1", ThreadKey: "peer-1", Direction: models.DirectionOutgoing,
		Kind: models.ContentText, OutgoingStatus: models.OutgoingSentOut,
	}
	store.On("GetMessage", ctx, "m1").Return(rec, nil)
	store.On("ApplyChange", ctx, mock.MatchedBy(func(change *models.StateChange) bool {
		return change.Message != nil && change.Message.OutgoingStatus == models.OutgoingSeen && change.Receipt == nil
	})).Return(nil)
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	result, err := ledger.ApplyReceiptEvent(ctx, "m1", models.ReceiptEvent{RecipientID: "peer-1", Kind: models.EventRecipientSeen})

	require.NoError(t, err)
	assert.Equal(t, engine.Changed, result)
	store.AssertNotCalled(t, "GetReceipt", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecoverRebuildsInMemoryState(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	store.On("GetCountedThreads", ctx).Return(map[string][]string{
		"peer-1": {"m1", "m2"},
		"g:team": {"m3"},
	}, nil)
	store.On("ListAggregateMarks", ctx).Return([]models.AggregateMark{
		{MessageID: "g1", EmittedLevel: models.AggregateDelivered, RecipientCount: 2},
	}, nil)
	store.On("GetReceipts", ctx, "g1").Return([]models.RecipientReceipt{
		{MessageID: "g1", RecipientID: "alice", Status: models.ReceiptDelivered},
		{MessageID: "g1", RecipientID: "bob", Status: models.ReceiptDelivered},
	}, nil)

	require.NoError(t, ledger.Recover(ctx))

	assert.Equal(t, 2, ledger.UnreadCount("peer-1"))
	assert.Equal(t, 1, ledger.UnreadCount("g:team"))
	assert.Equal(t, 3, ledger.GlobalUnreadCount())
	assert.True(t, ledger.aggregator.Tracked("g1"))
	assert.Equal(t, models.AggregateDelivered, ledger.aggregator.Emitted("g1"))
}

func TestThreadSummary(t *testing.T) {
	store := &mockStore{}
	ledger := newTestLedger(store, nil)
	ctx := context.Background()

	ledger.counter.Restore("peer-1", []string{"m1", "m2"})
	rec := incomingRecord("m2", "peer-1", models.IncomingNone, true)
	rec.ContentRef = "latest words"
	store.On("GetLatestMessage", ctx, "peer-1").Return(rec, nil)

	summary, err := ledger.ThreadSummary(ctx, "peer-1")

	require.NoError(t, err)
	assert.Equal(t, 2, summary.UnreadCount)
	assert.Equal(t, "latest words", summary.Preview)
	assert.Equal(t, "m2", summary.LastMessageID)
}
