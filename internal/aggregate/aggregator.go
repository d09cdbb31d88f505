// Package aggregate derives a single group-message status from its set of
// per-recipient receipts and guarantees the fully-delivered / fully-seen
// notifications fire at most once per message, whatever order receipts
// arrive in.
package aggregate

import (
	"sync"

	"github.com/sirupsen/logrus"

	"chatledger/internal/metrics"
	"chatledger/internal/models"
)

// Notifier receives forward-progress announcements. Levels are announced in
// order and each level at most once per message.
type Notifier interface {
	AggregateAdvanced(messageID string, level models.GroupAggregateStatus)
}

type messageState struct {
	recipients int
	delivered  int // receipts at delivered or later
	seen       int // receipts at seen or later
	played     int // receipts at played
	emitted    models.GroupAggregateStatus
}

func (s *messageState) level() models.GroupAggregateStatus {
	if s.recipients == 0 {
		return models.AggregatePending
	}
	if s.seen == s.recipients {
		return models.AggregateSeen
	}
	if s.delivered == s.recipients {
		return models.AggregateDelivered
	}
	return models.AggregatePending
}

// Aggregator tracks per-message receipt tallies so each receipt transition
// is O(1) to absorb, O(recipient count) only on a full recompute.
type Aggregator struct {
	mu       sync.Mutex
	states   map[string]*messageState
	notifier Notifier
	logger   *logrus.Logger
}

func New(notifier Notifier, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		states:   make(map[string]*messageState),
		notifier: notifier,
		logger:   logger,
	}
}

// Track registers a group message with its recipient snapshot. emitted seeds
// the last-announced level, so recovery from the durable store cannot
// re-fire a notification that already went out before a restart.
func (a *Aggregator) Track(messageID string, recipientCount int, emitted models.GroupAggregateStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.states[messageID]; ok {
		return
	}
	a.states[messageID] = &messageState{
		recipients: recipientCount,
		emitted:    emitted,
	}
}

// Tracked reports whether a message is registered.
func (a *Aggregator) Tracked(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.states[messageID]
	return ok
}

// Seed replays one recipient's current status into the tallies without
// firing notifications; used when rebuilding from the store.
func (a *Aggregator) Seed(messageID string, status models.ReceiptStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[messageID]
	if !ok {
		return
	}
	s.absorb(models.ReceiptNone, status)
}

func (s *messageState) absorb(prev, next models.ReceiptStatus) {
	if prev.Rank() < models.ReceiptDelivered.Rank() && next.Rank() >= models.ReceiptDelivered.Rank() {
		s.delivered++
	}
	if prev.Rank() < models.ReceiptSeen.Rank() && next.Rank() >= models.ReceiptSeen.Rank() {
		s.seen++
	}
	if prev.Rank() < models.ReceiptPlayed.Rank() && next.Rank() >= models.ReceiptPlayed.Rank() {
		s.played++
	}
}

// Peek computes what Observe would do for a receipt transition without
// mutating tallies or notifying. Callers persist on the strength of the
// peek, then Observe after the write commits; a failed write therefore
// cannot leak an absorbed tally or a premature notification.
func (a *Aggregator) Peek(messageID string, prev, next models.ReceiptStatus) (level models.GroupAggregateStatus, fired []models.GroupAggregateStatus, allPlayed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[messageID]
	if !ok {
		return models.AggregatePending, nil, false
	}

	scratch := *s
	scratch.absorb(prev, next)
	level = scratch.level()

	for _, l := range []models.GroupAggregateStatus{models.AggregateDelivered, models.AggregateSeen} {
		if level.Rank() >= l.Rank() && s.emitted.Rank() < l.Rank() {
			fired = append(fired, l)
		}
	}
	allPlayed = scratch.recipients > 0 && scratch.played == scratch.recipients
	return level, fired, allPlayed
}

// Observe absorbs one receipt transition and returns the new aggregate level
// plus the levels newly announced (empty on no forward progress). Crossing
// straight to seen announces delivered first, then seen, each exactly once.
func (a *Aggregator) Observe(messageID string, prev, next models.ReceiptStatus) (models.GroupAggregateStatus, []models.GroupAggregateStatus) {
	a.mu.Lock()
	s, ok := a.states[messageID]
	if !ok {
		a.mu.Unlock()
		a.logger.WithField("message_id", messageID).Warn("Receipt observed for untracked group message")
		return models.AggregatePending, nil
	}

	s.absorb(prev, next)
	level := s.level()

	var fired []models.GroupAggregateStatus
	for _, l := range []models.GroupAggregateStatus{models.AggregateDelivered, models.AggregateSeen} {
		if level.Rank() >= l.Rank() && s.emitted.Rank() < l.Rank() {
			fired = append(fired, l)
		}
	}
	if len(fired) > 0 {
		s.emitted = level
	}
	a.mu.Unlock()

	for _, l := range fired {
		metrics.IncrementCounter("aggregate_level_announced", map[string]string{"level": string(l)}, "Group aggregate levels announced")
		if a.notifier != nil {
			a.notifier.AggregateAdvanced(messageID, l)
		}
	}
	return level, fired
}

// Emitted returns the last announced level for a message.
func (a *Aggregator) Emitted(messageID string) models.GroupAggregateStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[messageID]; ok {
		return s.emitted
	}
	return models.AggregatePending
}

// AllPlayed reports whether every recipient has played the audio. Reported
// alongside seen, never gating it: a message is seen once read, whether or
// not the audio was played.
func (a *Aggregator) AllPlayed(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[messageID]
	return ok && s.recipients > 0 && s.played == s.recipients
}

// Forget drops tally state for a message, e.g. after retraction.
func (a *Aggregator) Forget(messageID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, messageID)
}

// Aggregate computes the summary status from a full receipt set. Observe is
// the incremental path; this is the O(n) recompute used for display.
func Aggregate(receipts []models.RecipientReceipt) models.GroupAggregateStatus {
	if len(receipts) == 0 {
		return models.AggregatePending
	}
	delivered, seen := 0, 0
	for _, r := range receipts {
		if r.Status.Rank() >= models.ReceiptDelivered.Rank() {
			delivered++
		}
		if r.Status.Rank() >= models.ReceiptSeen.Rank() {
			seen++
		}
	}
	switch {
	case seen == len(receipts):
		return models.AggregateSeen
	case delivered == len(receipts):
		return models.AggregateDelivered
	default:
		return models.AggregatePending
	}
}
