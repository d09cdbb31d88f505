// Package projector turns (latest message, unread count) into the summary a
// chat list renders. The projection is a pure function; the Projector only
// adds observer fan-out on top. Debouncing of redundant refreshes is the
// subscriber's concern, not ours.
package projector

import (
	"sync"

	"github.com/sirupsen/logrus"

	"chatledger/internal/models"
)

// Observer receives a fresh summary after every relevant mutation.
// Callbacks run on the mutating goroutine and must not block.
type Observer interface {
	ThreadSummaryChanged(summary models.ThreadSummary)
}

// Project derives the list-view summary for a thread. It holds no state and
// depends on nothing but its arguments.
func Project(latest *models.MessageRecord, unreadCount int) models.ThreadSummary {
	s := models.ThreadSummary{UnreadCount: unreadCount}
	if latest == nil {
		return s
	}
	s.ThreadKey = latest.ThreadKey
	s.IsGroup = latest.IsGroup
	s.LastMessageID = latest.ID
	s.Preview = previewFor(latest)
	s.StatusIcon = statusIconFor(latest)
	if latest.ServerTimestamp != nil {
		ts := *latest.ServerTimestamp
		s.LastActivity = &ts
	} else {
		ts := latest.CreatedAt
		s.LastActivity = &ts
	}
	return s
}

func previewFor(m *models.MessageRecord) string {
	switch {
	case m.Direction == models.DirectionOutgoing && m.OutgoingStatus == models.OutgoingRetracted,
		m.Direction == models.DirectionIncoming && m.IncomingStatus == models.IncomingRetracted:
		return ""
	case m.Direction == models.DirectionIncoming && !m.Decrypted:
		return ""
	default:
		return m.ContentRef
	}
}

// statusIconFor selects the icon key for the thread's latest message. Only
// outgoing messages carry a status icon; played decorates seen for audio.
func statusIconFor(m *models.MessageRecord) string {
	if m.Direction != models.DirectionOutgoing {
		return ""
	}
	if m.OutgoingStatus == models.OutgoingSeen && m.Played {
		return "played"
	}
	return string(m.OutgoingStatus)
}

// Projector fans freshly computed summaries out to subscribers.
type Projector struct {
	mu        sync.Mutex
	observers []Observer
	logger    *logrus.Logger
}

func New(logger *logrus.Logger) *Projector {
	return &Projector{logger: logger}
}

func (p *Projector) Subscribe(obs Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, obs)
}

// Publish computes the summary and notifies every subscriber.
func (p *Projector) Publish(latest *models.MessageRecord, unreadCount int) models.ThreadSummary {
	summary := Project(latest, unreadCount)

	p.mu.Lock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.Unlock()

	for _, obs := range observers {
		obs.ThreadSummaryChanged(summary)
	}
	return summary
}
