// Package service orchestrates the status engine, the durable store and the
// in-memory aggregates. Events are serialized per message ID; the durable
// write always commits before in-memory state and observers see the change.
package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chatledger/internal/aggregate"
	"chatledger/internal/engine"
	apperrors "chatledger/internal/errors"
	"chatledger/internal/metrics"
	"chatledger/internal/models"
	"chatledger/internal/privacy"
	"chatledger/internal/projector"
	"chatledger/internal/tracing"
	"chatledger/internal/unread"
	"chatledger/internal/validation"
)

const lockShards = 64

// Store is the durable side of the ledger. ApplyChange must commit every
// populated field of a StateChange in one transaction.
type Store interface {
	CreateMessage(ctx context.Context, rec *models.MessageRecord, receipts []models.RecipientReceipt, mark *models.AggregateMark) error
	GetMessage(ctx context.Context, id string) (*models.MessageRecord, error)
	GetLatestMessage(ctx context.Context, threadKey string) (*models.MessageRecord, error)
	GetReceipt(ctx context.Context, messageID, recipientID string) (*models.RecipientReceipt, error)
	GetReceipts(ctx context.Context, messageID string) ([]models.RecipientReceipt, error)
	ApplyChange(ctx context.Context, change *models.StateChange) error
	GetCountedThreads(ctx context.Context) (map[string][]string, error)
	ListAggregateMarks(ctx context.Context) ([]models.AggregateMark, error)
	ListPendingSends(ctx context.Context, limit int) ([]models.PendingSend, error)
	GetStaleCounts(ctx context.Context, olderThan time.Duration) (int, int, error)
	Close() error
}

// Ledger is the entry point for all message state mutations.
type Ledger struct {
	store      Store
	engine     *engine.Engine
	aggregator *aggregate.Aggregator
	counter    *unread.Counter
	projector  *projector.Projector
	logger     *logrus.Logger

	locks [lockShards]sync.Mutex
}

func NewLedger(store Store, notifier aggregate.Notifier, logger *logrus.Logger) *Ledger {
	return &Ledger{
		store:      store,
		engine:     engine.New(logger),
		aggregator: aggregate.New(notifier, logger),
		counter:    unread.NewCounter(logger),
		projector:  projector.New(logger),
		logger:     logger,
	}
}

func (l *Ledger) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return &l.locks[h.Sum32()%lockShards]
}

// SubscribeSummaries registers an observer for thread summary refreshes.
func (l *Ledger) SubscribeSummaries(obs projector.Observer) {
	l.projector.Subscribe(obs)
}

// SubscribeUnread registers an observer for unread count changes.
func (l *Ledger) SubscribeUnread(obs unread.Observer) {
	l.counter.Subscribe(obs)
}

// CreateOutgoing registers a new outgoing message in status pending. For
// group messages the recipient set is snapshotted now and never grows.
func (l *Ledger) CreateOutgoing(ctx context.Context, rec *models.MessageRecord, recipients []string) error {
	if err := validation.ValidateMessageID(rec.ID); err != nil {
		return err
	}
	if err := validation.ValidateThreadKey(rec.ThreadKey); err != nil {
		return err
	}
	for _, r := range recipients {
		if err := validation.ValidateRecipientID(r); err != nil {
			return err
		}
	}

	rec.Direction = models.DirectionOutgoing
	rec.OutgoingStatus = models.OutgoingPending

	var receipts []models.RecipientReceipt
	var mark *models.AggregateMark
	if rec.IsGroup {
		receipts = make([]models.RecipientReceipt, 0, len(recipients))
		for _, r := range recipients {
			receipts = append(receipts, models.RecipientReceipt{
				MessageID:   rec.ID,
				RecipientID: r,
				Status:      models.ReceiptNone,
			})
		}
		mark = &models.AggregateMark{
			MessageID:      rec.ID,
			EmittedLevel:   models.AggregatePending,
			RecipientCount: len(recipients),
		}
	}

	if err := l.store.CreateMessage(ctx, rec, receipts, mark); err != nil {
		return apperrors.NewPersistenceError("message create", err)
	}

	if rec.IsGroup {
		l.aggregator.Track(rec.ID, len(recipients), models.AggregatePending)
	}
	metrics.IncrementCounter("messages_created", map[string]string{"direction": "outgoing"}, "Messages registered")
	l.publishThread(ctx, rec.ThreadKey)
	return nil
}

// RecordIncoming registers a newly arrived incoming message, still
// undecrypted. Unread accounting happens at decryption, not here.
func (l *Ledger) RecordIncoming(ctx context.Context, rec *models.MessageRecord) error {
	if err := validation.ValidateMessageID(rec.ID); err != nil {
		return err
	}
	if err := validation.ValidateThreadKey(rec.ThreadKey); err != nil {
		return err
	}

	rec.Direction = models.DirectionIncoming
	rec.IncomingStatus = models.IncomingNone
	rec.Decrypted = false

	if err := l.store.CreateMessage(ctx, rec, nil, nil); err != nil {
		return apperrors.NewPersistenceError("message create", err)
	}
	metrics.IncrementCounter("messages_created", map[string]string{"direction": "incoming"}, "Messages registered")
	l.publishThread(ctx, rec.ThreadKey)
	return nil
}

// ApplyOutgoingEvent applies one network event to an outgoing message.
// A non-nil error means nothing was applied; Rejected means the event had
// no legal transition and was dropped after logging.
func (l *Ledger) ApplyOutgoingEvent(ctx context.Context, messageID string, ev models.OutgoingEvent) (engine.Result, error) {
	if err := validation.ValidateMessageID(messageID); err != nil {
		return engine.Rejected, err
	}

	ctx, span := tracing.StartEventSpan(ctx, "apply_outgoing", messageID, string(ev.Kind))
	start := time.Now()

	mu := l.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.GetMessage(ctx, messageID)
	if err != nil {
		err = apperrors.NewPersistenceError("message load", err)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}
	if rec == nil {
		err = apperrors.NewNotFoundError("message", messageID)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}

	next := rec.Clone()
	result := l.engine.ApplyOutgoing(next, ev)
	l.recordOutcome("outgoing", string(ev.Kind), result, start)

	if result != engine.Changed {
		tracing.EndSpan(span, result.String(), nil)
		return result, nil
	}

	if err := l.store.ApplyChange(ctx, &models.StateChange{Message: next}); err != nil {
		err = apperrors.NewPersistenceError("status write", err)
		tracing.EndSpan(span, "error", err)
		return result, err
	}

	if next.OutgoingStatus == models.OutgoingRetracted && next.IsGroup {
		l.aggregator.Forget(messageID)
	}

	tracing.EndSpan(span, result.String(), nil)
	l.publishThread(ctx, next.ThreadKey)
	return result, nil
}

// ApplyIncomingEvent applies one event to an incoming message and settles
// its unread accounting in the same durable transaction.
func (l *Ledger) ApplyIncomingEvent(ctx context.Context, messageID string, ev models.IncomingEvent) (engine.Result, error) {
	if err := validation.ValidateMessageID(messageID); err != nil {
		return engine.Rejected, err
	}

	ctx, span := tracing.StartEventSpan(ctx, "apply_incoming", messageID, string(ev.Kind))
	start := time.Now()

	mu := l.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.GetMessage(ctx, messageID)
	if err != nil {
		err = apperrors.NewPersistenceError("message load", err)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}
	if rec == nil {
		err = apperrors.NewNotFoundError("message", messageID)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}

	next := rec.Clone()
	result := l.engine.ApplyIncoming(next, ev)
	l.recordOutcome("incoming", string(ev.Kind), result, start)

	if result != engine.Changed {
		tracing.EndSpan(span, result.String(), nil)
		return result, nil
	}

	change := &models.StateChange{Message: next}
	counted := l.counter.Contains(next.ThreadKey, messageID)
	increment, decrement := false, false

	switch ev.Kind {
	case models.EventDecrypted:
		if next.Countable() && next.IncomingStatus == models.IncomingNone && !counted {
			change.CountedAdd = &models.CountedRef{ThreadKey: next.ThreadKey, MessageID: messageID}
			increment = true
		}
	case models.EventMarkSeenLocally, models.EventRetractReceived:
		if counted {
			change.CountedRemove = &models.CountedRef{ThreadKey: next.ThreadKey, MessageID: messageID}
			decrement = true
		}
	}

	if err := l.store.ApplyChange(ctx, change); err != nil {
		err = apperrors.NewPersistenceError("status write", err)
		tracing.EndSpan(span, "error", err)
		return result, err
	}

	if increment {
		l.counter.Increment(next.ThreadKey, messageID)
	}
	if decrement {
		l.counter.Decrement(next.ThreadKey, messageID)
	}

	tracing.EndSpan(span, result.String(), nil)
	l.publishThread(ctx, next.ThreadKey)
	return result, nil
}

// MarkSeenLocally is the presentation-layer entry point: the user viewed
// the message. The unread decrement is immediate; the outbound seen receipt
// is sent later by the retry driver and never blocks this call.
func (l *Ledger) MarkSeenLocally(ctx context.Context, messageID string) (engine.Result, error) {
	return l.ApplyIncomingEvent(ctx, messageID, models.IncomingEvent{Kind: models.EventMarkSeenLocally})
}

// ApplyReceiptEvent applies one per-recipient acknowledgment to a group
// message: the receipt row, the message's own status and the aggregate mark
// move in one transaction.
func (l *Ledger) ApplyReceiptEvent(ctx context.Context, messageID string, ev models.ReceiptEvent) (engine.Result, error) {
	if err := validation.ValidateMessageID(messageID); err != nil {
		return engine.Rejected, err
	}
	if err := validation.ValidateRecipientID(ev.RecipientID); err != nil {
		return engine.Rejected, err
	}

	ctx, span := tracing.StartEventSpan(ctx, "apply_receipt", messageID, string(ev.Kind))
	start := time.Now()

	mu := l.lockFor(messageID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := l.store.GetMessage(ctx, messageID)
	if err != nil {
		err = apperrors.NewPersistenceError("message load", err)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}
	if rec == nil {
		err = apperrors.NewNotFoundError("message", messageID)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}
	if !rec.IsGroup {
		// 1:1 receipts fold into the message record itself.
		tracing.EndSpan(span, "redirected", nil)
		return l.applyReceiptAsOutgoing(ctx, rec, ev, start)
	}

	rcpt, err := l.store.GetReceipt(ctx, messageID, ev.RecipientID)
	if err != nil {
		err = apperrors.NewPersistenceError("receipt load", err)
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}
	if rcpt == nil {
		// The recipient set is frozen at send time; an unknown recipient
		// is a contradiction, not a late join.
		err = apperrors.NewNotFoundError("receipt", messageID+"/"+privacy.MaskUserID(ev.RecipientID))
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}

	prev := rcpt.Status
	nextReceipt := *rcpt
	result := l.engine.ApplyReceipt(&nextReceipt, ev, rec.Kind == models.ContentAudio)
	l.recordOutcome("receipt", string(ev.Kind), result, start)

	if result != engine.Changed {
		tracing.EndSpan(span, result.String(), nil)
		return result, nil
	}

	if err := l.ensureTracked(ctx, rec); err != nil {
		tracing.EndSpan(span, "error", err)
		return engine.Rejected, err
	}

	change := &models.StateChange{Receipt: &nextReceipt}

	// The message's own status follows the aggregate: it reaches delivered
	// or seen only when every recipient has. Peek first; tallies absorb and
	// notifications fire only after the write commits.
	level, fired, allPlayed := l.aggregator.Peek(messageID, prev, nextReceipt.Status)
	nextRec := rec.Clone()
	if l.advanceToAggregate(nextRec, level) == engine.Changed {
		change.Message = nextRec
	}
	if allPlayed && rec.Kind == models.ContentAudio && !nextRec.Played {
		nextRec.Played = true
		change.Message = nextRec
	}
	emitted := l.aggregator.Emitted(messageID)
	if len(fired) > 0 {
		emitted = fired[len(fired)-1]
	}
	if emitted != models.AggregatePending {
		change.AggregateMark = &models.AggregateMark{MessageID: messageID, EmittedLevel: emitted}
	}

	if err := l.store.ApplyChange(ctx, change); err != nil {
		err = apperrors.NewPersistenceError("receipt write", err)
		tracing.EndSpan(span, "error", err)
		return result, err
	}

	l.aggregator.Observe(messageID, prev, nextReceipt.Status)

	tracing.EndSpan(span, result.String(), nil)
	l.publishThread(ctx, rec.ThreadKey)
	return result, nil
}

func (l *Ledger) applyReceiptAsOutgoing(ctx context.Context, rec *models.MessageRecord, ev models.ReceiptEvent, start time.Time) (engine.Result, error) {
	next := rec.Clone()
	result := l.engine.ApplyOutgoing(next, models.OutgoingEvent{Kind: ev.Kind})
	l.recordOutcome("outgoing", string(ev.Kind), result, start)
	if result != engine.Changed {
		return result, nil
	}
	if err := l.store.ApplyChange(ctx, &models.StateChange{Message: next}); err != nil {
		return result, apperrors.NewPersistenceError("status write", err)
	}
	l.publishThread(ctx, next.ThreadKey)
	return result, nil
}

// advanceToAggregate moves a group message's own status up to the aggregate
// level. Statuses off the success path (retracting and friends) are left to
// the outgoing table; residual receipts still apply through it.
func (l *Ledger) advanceToAggregate(rec *models.MessageRecord, level models.GroupAggregateStatus) engine.Result {
	var kind models.OutgoingEventKind
	switch level {
	case models.AggregateDelivered:
		kind = models.EventRecipientDelivered
	case models.AggregateSeen:
		kind = models.EventRecipientSeen
	default:
		return engine.NoOp
	}
	return l.engine.ApplyOutgoing(rec, models.OutgoingEvent{Kind: kind})
}

// ensureTracked lazily registers a group message with the aggregator, e.g.
// for receipts arriving before startup recovery touched this message.
func (l *Ledger) ensureTracked(ctx context.Context, rec *models.MessageRecord) error {
	if l.aggregator.Tracked(rec.ID) {
		return nil
	}
	receipts, err := l.store.GetReceipts(ctx, rec.ID)
	if err != nil {
		return apperrors.NewPersistenceError("receipt load", err)
	}
	emitted := models.AggregatePending
	marks, err := l.store.ListAggregateMarks(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("aggregate mark load", err)
	}
	for _, m := range marks {
		if m.MessageID == rec.ID {
			emitted = m.EmittedLevel
			break
		}
	}
	l.aggregator.Track(rec.ID, len(receipts), emitted)
	for _, r := range receipts {
		l.aggregator.Seed(rec.ID, r.Status)
	}
	return nil
}

// GroupStatus returns the display aggregate for a group message, recomputed
// from the full receipt set.
func (l *Ledger) GroupStatus(ctx context.Context, messageID string) (models.GroupAggregateStatus, error) {
	receipts, err := l.store.GetReceipts(ctx, messageID)
	if err != nil {
		return models.AggregatePending, apperrors.NewPersistenceError("receipt load", err)
	}
	return aggregate.Aggregate(receipts), nil
}

// ThreadSummary computes the current list-view summary for a thread.
func (l *Ledger) ThreadSummary(ctx context.Context, threadKey string) (models.ThreadSummary, error) {
	if err := validation.ValidateThreadKey(threadKey); err != nil {
		return models.ThreadSummary{}, err
	}
	latest, err := l.store.GetLatestMessage(ctx, threadKey)
	if err != nil {
		return models.ThreadSummary{}, apperrors.NewPersistenceError("message load", err)
	}
	return projector.Project(latest, l.counter.Count(threadKey)), nil
}

// UnreadCount returns one thread's unread count.
func (l *Ledger) UnreadCount(threadKey string) int {
	return l.counter.Count(threadKey)
}

// GlobalUnreadCount returns the app badge total.
func (l *Ledger) GlobalUnreadCount() int {
	return l.counter.GlobalCount()
}

// UnreadSnapshot returns every thread's current unread count.
func (l *Ledger) UnreadSnapshot() map[string]int {
	return l.counter.Snapshot()
}

// PendingSends surfaces outbound sends awaiting confirmation to the retry
// driver.
func (l *Ledger) PendingSends(ctx context.Context, limit int) ([]models.PendingSend, error) {
	pending, err := l.store.ListPendingSends(ctx, limit)
	if err != nil {
		return nil, apperrors.NewPersistenceError("pending send load", err)
	}
	return pending, nil
}

// Recover rebuilds in-memory state from the durable store after a restart:
// counted sets into the counter, aggregate marks into the aggregator. No
// observers or notifications fire.
func (l *Ledger) Recover(ctx context.Context) error {
	counted, err := l.store.GetCountedThreads(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("counted set load", err)
	}
	for threadKey, ids := range counted {
		l.counter.Restore(threadKey, ids)
	}

	marks, err := l.store.ListAggregateMarks(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("aggregate mark load", err)
	}
	for _, m := range marks {
		l.aggregator.Track(m.MessageID, m.RecipientCount, m.EmittedLevel)
		receipts, err := l.store.GetReceipts(ctx, m.MessageID)
		if err != nil {
			return apperrors.NewPersistenceError("receipt load", err)
		}
		for _, r := range receipts {
			l.aggregator.Seed(m.MessageID, r.Status)
		}
	}

	l.logger.WithFields(logrus.Fields{
		"threads": len(counted),
		"tracked": len(marks),
		"unread":  l.counter.GlobalCount(),
	}).Info("Recovered ledger state")
	return nil
}

func (l *Ledger) publishThread(ctx context.Context, threadKey string) {
	latest, err := l.store.GetLatestMessage(ctx, threadKey)
	if err != nil {
		l.logger.WithError(err).WithField("thread", privacy.MaskThreadKey(threadKey)).
			Warn("Failed to load latest message for summary")
		return
	}
	l.projector.Publish(latest, l.counter.Count(threadKey))
}

func (l *Ledger) recordOutcome(table, event string, result engine.Result, start time.Time) {
	metrics.IncrementCounter("events_applied", map[string]string{
		"table":  table,
		"event":  event,
		"result": result.String(),
	}, "Events applied by outcome")
	metrics.RecordTimer("event_apply_duration", time.Since(start), map[string]string{"table": table})
	if result == engine.Rejected {
		metrics.IncrementCounter("transitions_rejected", map[string]string{"table": table, "event": event}, "Illegal transitions")
	}
}
