package models

import "time"

// ThreadUnreadState is the durable unread bookkeeping for one thread. The
// counted set, not a bare integer, is the source of truth: membership makes
// duplicate increments and unmatched decrements structurally impossible.
type ThreadUnreadState struct {
	ThreadKey  string
	CountedIDs []string
}

// UnreadCount is the derived badge value for a thread.
func (t *ThreadUnreadState) UnreadCount() int {
	return len(t.CountedIDs)
}

// ThreadSummary is the list-view-facing projection of a thread: a pure
// function of its latest message and its unread count. The UI layer
// subscribes to these; it never reads engine state directly.
type ThreadSummary struct {
	ThreadKey     string     `json:"threadKey"`
	IsGroup       bool       `json:"isGroup"`
	LastMessageID string     `json:"lastMessageId"`
	LastActivity  *time.Time `json:"lastActivity,omitempty"`
	Preview       string     `json:"preview"`
	StatusIcon    string     `json:"statusIcon"`
	UnreadCount   int        `json:"unreadCount"`
}

// CountedRef names one (thread, message) membership change in the durable
// counted set, committed in the same transaction as the status write.
type CountedRef struct {
	ThreadKey string
	MessageID string
}
